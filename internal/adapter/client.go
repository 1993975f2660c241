package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"

	"subscriber/internal/model"
)

const userAgent = "SubscriberBot/1.0"

// maxImageBytes caps downloaded images; Telegram rejects larger photos anyway.
const maxImageBytes = 10 << 20

// Client performs the HTTP calls of all adapters.
type Client struct {
	r *resty.Client
}

// NewClient creates a Client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	r := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &Client{r: r}
}

// Get downloads url and fails on non-2xx responses.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, c.r.R(), url)
}

func (c *Client) get(ctx context.Context, req *resty.Request, url string) ([]byte, error) {
	resp, err := req.SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, Code: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Document downloads url and parses it as HTML.
func (c *Client) Document(ctx context.Context, url string) (*goquery.Document, error) {
	return c.document(ctx, c.r.R(), url)
}

func (c *Client) document(ctx context.Context, req *resty.Request, url string) (*goquery.Document, error) {
	body, err := c.get(ctx, req, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Feed downloads url and parses it as RSS, Atom or JSON feed.
func (c *Client) Feed(ctx context.Context, url string) (*gofeed.Feed, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// Image downloads an image. An empty url yields no image and no error.
func (c *Client) Image(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, nil
	}
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("image %s is too large (%d bytes)", url, len(body))
	}
	return body, nil
}

// OpenGraph returns the og:* meta properties of a page, keyed without the prefix.
func OpenGraph(doc *goquery.Document) map[string]string {
	tags := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		key := strings.TrimPrefix(prop, "og:")
		if _, seen := tags[key]; !seen {
			tags[key] = strings.TrimSpace(content)
		}
	})
	return tags
}

// scrapeOpenGraph builds post content from the OpenGraph tags of postURL.
func (c *Client) scrapeOpenGraph(ctx context.Context, postURL string) (model.Content, error) {
	doc, err := c.Document(ctx, postURL)
	if err != nil {
		return model.Content{}, err
	}
	tags := OpenGraph(doc)
	title := tags["title"]
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	content := model.Content{Title: title, Description: tags["description"]}
	// a missing picture does not spoil the rest of the content
	if img, err := c.Image(ctx, tags["image"]); err == nil {
		content.Image = img
	}
	return content, nil
}

// ItemGUID returns a stable identifier for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// reversed iterates feed items oldest first; feeds list the newest first.
func reversed(items []*gofeed.Item, fn func(*gofeed.Item) bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if !fn(items[i]) {
			return
		}
	}
}
