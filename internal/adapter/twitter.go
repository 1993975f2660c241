package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"subscriber/internal/model"
)

var twitterAccount = regexp.MustCompile(`(?i)^/(\w+)$`)

// Twitter follows accounts through the RSS feeds of a nitter instance.
type Twitter struct {
	client *Client
	base   string
}

// NewTwitter creates the Twitter adapter reading feeds from nitterBase.
func NewTwitter(client *Client, nitterBase string) *Twitter {
	if !strings.HasSuffix(nitterBase, "/") {
		nitterBase += "/"
	}
	return &Twitter{client: client, base: nitterBase}
}

// Kind implements Adapter.
func (t *Twitter) Kind() Kind { return KindTwitter }

// Track accepts account links of twitter.com, x.com and nitter mirrors.
func (t *Twitter) Track(_ context.Context, rawURL string) (model.ChannelData, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.ChannelData{}, invalidSource("This is not a valid link: %s", rawURL)
	}
	m := twitterAccount.FindStringSubmatch(strings.TrimSuffix(u.Path, "/"))
	if m == nil {
		return model.ChannelData{}, invalidSource("%s is not a valid twitter account.", u.Path)
	}
	name := m[1]
	return model.ChannelData{
		UpdateURL: "https://twitter.com/" + name,
		Name:      name,
		URL:       "https://twitter.com/" + name,
	}, nil
}

// Update reads the nitter feed of the account. Tweets always carry their text.
func (t *Twitter) Update(ctx context.Context, _, name string, yield func(model.PostUpdate) bool) error {
	feed, err := t.client.Feed(ctx, t.base+name+"/rss")
	if err != nil {
		return err
	}
	reversed(feed.Items, func(item *gofeed.Item) bool {
		id := strings.TrimSuffix(strings.TrimPrefix(item.Link, t.base), "#m")
		return yield(model.PostUpdate{
			ID:      id,
			URL:     item.Link,
			Content: &model.Content{Description: item.Title},
		})
	})
	return nil
}

// Scrape is never needed: every update carries content.
func (t *Twitter) Scrape(context.Context, string) (model.Content, error) {
	return model.Content{}, ErrScrapeUnsupported
}
