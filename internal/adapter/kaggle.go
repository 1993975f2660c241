package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"subscriber/internal/model"
)

const (
	kaggleBase = "https://www.kaggle.com"
	// kaggleMaxPages bounds one update when yield never stops it.
	kaggleMaxPages = 10
)

var errKaggleCredentials = errors.New("kaggle credentials are not configured")

// Kaggle follows newly created Kaggle competitions through the public API.
type Kaggle struct {
	client   *Client
	base     string
	username string
	key      string
}

// NewKaggle creates the Kaggle adapter. Without credentials the adapter
// refuses to track and fails every update.
func NewKaggle(client *Client, username, key string) *Kaggle {
	return &Kaggle{client: client, base: kaggleBase, username: username, key: key}
}

// Kind implements Adapter.
func (k *Kaggle) Kind() Kind { return KindKaggle }

// Track maps every kaggle.com link to the competition listing.
func (k *Kaggle) Track(context.Context, string) (model.ChannelData, error) {
	if k.username == "" || k.key == "" {
		return model.ChannelData{}, invalidSource("Kaggle competitions are not available.")
	}
	return model.ChannelData{
		UpdateURL: k.base + "/competitions",
		Name:      "Kaggle Competitions",
		URL:       k.base + "/competitions",
	}, nil
}

type kaggleCompetition struct {
	ID          int64  `json:"id"`
	Ref         string `json:"ref"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Update lists competitions newest first.
func (k *Kaggle) Update(ctx context.Context, _, _ string, yield func(model.PostUpdate) bool) error {
	if k.username == "" || k.key == "" {
		return errKaggleCredentials
	}

	for page := 1; page <= kaggleMaxPages; page++ {
		var competitions []kaggleCompetition
		resp, err := k.client.r.R().
			SetContext(ctx).
			SetBasicAuth(k.username, k.key).
			SetQueryParams(map[string]string{"sortBy": "recentlyCreated", "page": strconv.Itoa(page)}).
			SetResult(&competitions).
			Get(k.base + "/api/v1/competitions/list")
		if err != nil {
			return fmt.Errorf("list competitions: %w", err)
		}
		if resp.IsError() {
			return &StatusError{URL: resp.Request.URL, Code: resp.StatusCode()}
		}
		if len(competitions) == 0 {
			return nil
		}

		for _, c := range competitions {
			link := c.URL
			if link == "" {
				link = c.Ref
			}
			update := model.PostUpdate{
				ID:      strconv.FormatInt(c.ID, 10),
				URL:     link,
				Content: &model.Content{Title: c.Title, Description: c.Description},
			}
			if !yield(update) {
				return nil
			}
		}
	}
	return nil
}

// Scrape is never needed: every competition carries content.
func (k *Kaggle) Scrape(context.Context, string) (model.Content, error) {
	return model.Content{}, ErrScrapeUnsupported
}
