package adapter

import (
	"context"

	"github.com/mmcdole/gofeed"

	"subscriber/internal/model"
)

// RSS tracks any RSS, Atom or JSON feed.
type RSS struct {
	client *Client
}

// NewRSS creates the generic feed adapter.
func NewRSS(client *Client) *RSS {
	return &RSS{client: client}
}

// Kind implements Adapter.
func (r *RSS) Kind() Kind { return KindRSS }

// Track accepts rawURL only if it serves a parseable feed.
func (r *RSS) Track(ctx context.Context, rawURL string) (model.ChannelData, error) {
	feed, err := r.client.Feed(ctx, rawURL)
	if err != nil {
		return model.ChannelData{}, invalidSource("Unknown source: %s", rawURL)
	}

	data := model.ChannelData{UpdateURL: rawURL, Name: feed.Title, URL: rawURL}
	if data.Name == "" {
		data.Name = rawURL
	}
	if feed.Image != nil {
		if img, err := r.client.Image(ctx, feed.Image.URL); err == nil {
			data.Image = img
		}
	}
	return data, nil
}

// Update yields the feed items oldest first, each with its own content.
func (r *RSS) Update(ctx context.Context, updateURL, _ string, yield func(model.PostUpdate) bool) error {
	feed, err := r.client.Feed(ctx, updateURL)
	if err != nil {
		return err
	}
	reversed(feed.Items, func(item *gofeed.Item) bool {
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		return yield(model.PostUpdate{
			ID:      ItemGUID(item),
			URL:     item.Link,
			Content: &model.Content{Title: item.Title, Description: desc},
		})
	})
	return nil
}

// Scrape reads the OpenGraph tags of the linked article.
func (r *RSS) Scrape(ctx context.Context, postURL string) (model.Content, error) {
	return r.client.scrapeOpenGraph(ctx, postURL)
}
