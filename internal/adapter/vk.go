package adapter

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"subscriber/internal/model"
)

var vkGroup = regexp.MustCompile(`(?i)^/(\w+)$`)

const vkWallURL = "https://vk.com/wall"

// VK follows the wall of a public VK group.
type VK struct {
	client *Client
}

// NewVK creates the VK adapter.
func NewVK(client *Client) *VK {
	return &VK{client: client}
}

// Kind implements Adapter.
func (v *VK) Kind() Kind { return KindVK }

// Track accepts vk.com/<group> links.
func (v *VK) Track(_ context.Context, rawURL string) (model.ChannelData, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.ChannelData{}, invalidSource("This is not a valid link: %s", rawURL)
	}
	m := vkGroup.FindStringSubmatch(strings.TrimSuffix(u.Path, "/"))
	if m == nil {
		return model.ChannelData{}, invalidSource("%s is not a valid channel name.", u.Path)
	}
	return model.ChannelData{UpdateURL: rawURL, Name: m[1], URL: rawURL}, nil
}

// Update yields the group posts found on the wall page. Only community posts
// (ids starting with "-") are kept; each id is reported once per page.
func (v *VK) Update(ctx context.Context, updateURL, _ string, yield func(model.PostUpdate) bool) error {
	doc, err := v.client.Document(ctx, updateURL)
	if err != nil {
		return err
	}

	var ids []string
	doc.Find("[data-post-id]").Each(func(_ int, s *goquery.Selection) {
		ids = append(ids, s.AttrOr("data-post-id", ""))
	})

	visited := make(map[string]bool)
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if !strings.HasPrefix(id, "-") || visited[id] {
			continue
		}
		visited[id] = true
		if !yield(model.PostUpdate{ID: id[1:], URL: vkWallURL + id, Content: &model.Content{}}) {
			return nil
		}
	}
	return nil
}

// Scrape returns empty content; wall pages are not scraped.
func (v *VK) Scrape(context.Context, string) (model.Content, error) {
	return model.Content{}, nil
}
