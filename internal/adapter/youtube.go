package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"subscriber/internal/model"
)

const (
	youtubeFeedURL    = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	youtubeChannelURL = "https://www.youtube.com/channel/%s"
)

// YouTube tracks channels through their public Atom feed.
type YouTube struct {
	client  *Client
	feedURL string
}

// NewYouTube creates the YouTube adapter.
func NewYouTube(client *Client) *YouTube {
	return &YouTube{client: client, feedURL: youtubeFeedURL}
}

// Kind implements Adapter.
func (y *YouTube) Kind() Kind { return KindYouTube }

// Track resolves any channel page (handle, /c/, /user/ or /channel/ link) to
// the channel id embedded in the page.
func (y *YouTube) Track(ctx context.Context, rawURL string) (model.ChannelData, error) {
	// the consent cookie skips the EU interstitial page
	req := y.client.r.R().SetCookie(&http.Cookie{Name: "CONSENT", Value: "YES+999"})
	doc, err := y.client.document(ctx, req, rawURL)
	if err != nil {
		return model.ChannelData{}, invalidSource("This is not a valid youtube channel.")
	}

	counts := make(map[string]int)
	best := ""
	doc.Find(`meta[itemprop="channelId"], meta[itemprop="identifier"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("content")
		if id == "" {
			return
		}
		counts[id]++
		if counts[id] > counts[best] {
			best = id
		}
	})
	if best == "" {
		return model.ChannelData{}, invalidSource("This is not a valid youtube channel.")
	}

	tags := OpenGraph(doc)
	data := model.ChannelData{
		UpdateURL: fmt.Sprintf(y.feedURL, best),
		Name:      tags["title"],
		URL:       fmt.Sprintf(youtubeChannelURL, best),
	}
	if feed, err := y.client.Feed(ctx, data.UpdateURL); err == nil && feed.Title != "" {
		data.Name = feed.Title
	}
	if data.Name == "" {
		data.Name = best
	}
	if img, err := y.client.Image(ctx, tags["image"]); err == nil {
		data.Image = img
	}
	return data, nil
}

// Update yields the videos of the channel feed, oldest first. Content is
// scraped separately from the video page.
func (y *YouTube) Update(ctx context.Context, updateURL, _ string, yield func(model.PostUpdate) bool) error {
	feed, err := y.client.Feed(ctx, updateURL)
	if err != nil {
		return err
	}
	reversed(feed.Items, func(item *gofeed.Item) bool {
		return yield(model.PostUpdate{ID: ItemGUID(item), URL: item.Link})
	})
	return nil
}

// Scrape reads the OpenGraph tags of a video page.
func (y *YouTube) Scrape(ctx context.Context, postURL string) (model.Content, error) {
	return y.client.scrapeOpenGraph(ctx, postURL)
}
