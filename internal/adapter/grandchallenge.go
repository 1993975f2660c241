package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"subscriber/internal/model"
)

const grandChallengeBase = "https://grand-challenge.org"

// GrandChallenge follows the listing of grand-challenge.org challenges.
type GrandChallenge struct {
	client *Client
	base   string
}

// NewGrandChallenge creates the GrandChallenge adapter.
func NewGrandChallenge(client *Client) *GrandChallenge {
	return &GrandChallenge{client: client, base: grandChallengeBase}
}

// Kind implements Adapter.
func (g *GrandChallenge) Kind() Kind { return KindGrandChallenge }

// Track maps every grand-challenge.org link to the single challenge listing.
func (g *GrandChallenge) Track(context.Context, string) (model.ChannelData, error) {
	return model.ChannelData{
		UpdateURL: g.base + "/challenges/all-challenges",
		Name:      "GrandChallenge Competitions",
		URL:       g.base,
	}, nil
}

// Update walks the listing page by page, newest first, until a page has no
// cards or yield asks to stop.
func (g *GrandChallenge) Update(ctx context.Context, _, _ string, yield func(model.PostUpdate) bool) error {
	for page := 1; ; page++ {
		doc, err := g.client.Document(ctx, fmt.Sprintf("%s/challenges/?page=%d", g.base, page))
		if err != nil {
			var status *StatusError
			if page > 1 && errors.As(err, &status) && status.Code == http.StatusNotFound {
				return nil
			}
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		cards := doc.Find(".card.gc-card")
		if cards.Length() == 0 {
			return nil
		}

		stop := false
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			link := card.Find("a[href]").First().AttrOr("href", "")
			if link == "" {
				return true
			}
			content := &model.Content{
				Title:    strings.TrimSpace(card.Find(".card-title").First().Text()),
				ImageURL: card.Find("img").First().AttrOr("src", ""),
			}
			stop = !yield(model.PostUpdate{ID: link, URL: link, Content: content})
			return !stop
		})
		if stop {
			return nil
		}
	}
}

// FetchImage implements ImageFetcher.
func (g *GrandChallenge) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	return g.client.Image(ctx, imageURL)
}

// Scrape is never needed: every card carries content.
func (g *GrandChallenge) Scrape(context.Context, string) (model.Content, error) {
	return model.Content{}, ErrScrapeUnsupported
}
