package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"subscriber/internal/model"
)

// SongKick follows the concert calendar of an artist.
type SongKick struct {
	client *Client
}

// NewSongKick creates the SongKick adapter.
func NewSongKick(client *Client) *SongKick {
	return &SongKick{client: client}
}

// Kind implements Adapter.
func (s *SongKick) Kind() Kind { return KindSongKick }

// Track accepts /artists/<id> links, with or without trailing path segments.
func (s *SongKick) Track(ctx context.Context, rawURL string) (model.ChannelData, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.ChannelData{}, invalidSource("This is not a valid link: %s", rawURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "artists" || parts[1] == "" {
		return model.ChannelData{}, invalidSource("This is not a valid artist link.")
	}

	artist := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/artists/" + parts[1]}
	doc, err := s.client.Document(ctx, artist.String())
	if err != nil {
		return model.ChannelData{}, fmt.Errorf("fetch artist page: %w", err)
	}

	header := doc.Find(".artist-header").First()
	name := strings.TrimSpace(header.Find("h1").First().Text())
	if name == "" {
		return model.ChannelData{}, invalidSource("This is not a valid artist link.")
	}

	data := model.ChannelData{
		UpdateURL: artist.String() + "/calendar",
		Name:      name,
		URL:       artist.String(),
	}
	src := header.Find("img.artist-profile-image").AttrOr("src", "")
	if src != "" {
		if strings.HasPrefix(src, "//") {
			src = u.Scheme + ":" + src
		} else if ref, err := url.Parse(src); err == nil {
			src = u.ResolveReference(ref).String()
		}
		if img, err := s.client.Image(ctx, src); err == nil {
			data.Image = img
		}
	}
	return data, nil
}

// Update yields the upcoming events of the calendar page, oldest first.
// Event links carry the artist name as fragment so every subscriber sees
// whose concert it is.
func (s *SongKick) Update(ctx context.Context, updateURL, name string, yield func(model.PostUpdate) bool) error {
	base, err := url.Parse(updateURL)
	if err != nil {
		return fmt.Errorf("parse update url: %w", err)
	}
	doc, err := s.client.Document(ctx, updateURL)
	if err != nil {
		return err
	}

	events := doc.Find("#calendar-summary li.event-listing")
	for i := events.Length() - 1; i >= 0; i-- {
		link := events.Eq(i).Find("a").First()
		href := link.AttrOr("href", "")
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		target := base.ResolveReference(ref)
		target.Fragment = name

		details := link.Find(".event-details")
		desc := strings.TrimSpace(details.Find(".secondary-detail").Text())
		if when := strings.TrimSpace(link.Find("time").AttrOr("datetime", "")); when != "" {
			desc += " at " + when
		}
		update := model.PostUpdate{
			ID:  href,
			URL: target.String(),
			Content: &model.Content{
				Title:       strings.TrimSpace(details.Find(".primary-detail").Text()),
				Description: desc,
			},
		}
		if !yield(update) {
			return nil
		}
	}
	return nil
}

// Scrape is never needed: every event carries content.
func (s *SongKick) Scrape(context.Context, string) (model.Content, error) {
	return model.Content{}, ErrScrapeUnsupported
}
