// Package adapter implements the per-source-kind logic that turns an
// external feed into a sequence of post updates.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"subscriber/internal/model"
)

// Kind identifies an adapter. It is stored as the Source type tag.
type Kind string

// Supported adapter kinds.
const (
	KindYouTube        Kind = "YouTube"
	KindRSS            Kind = "RSS"
	KindTwitter        Kind = "Twitter"
	KindVK             Kind = "VK"
	KindSongKick       Kind = "SongKick"
	KindGrandChallenge Kind = "GrandChallenge"
	KindKaggle         Kind = "Kaggle"
)

// Kinds lists every supported adapter kind.
func Kinds() []Kind {
	return []Kind{KindYouTube, KindRSS, KindTwitter, KindVK, KindSongKick, KindGrandChallenge, KindKaggle}
}

// NewestFirst reports whether the kind yields its newest items first. These
// are paged listings; the poller stops them early and reverses what it got.
func (k Kind) NewestFirst() bool {
	return k == KindGrandChallenge || k == KindKaggle
}

// ErrInvalidSource marks a URL no adapter accepts.
var ErrInvalidSource = errors.New("invalid source")

// ErrScrapeUnsupported is returned by adapters whose updates always carry content.
var ErrScrapeUnsupported = errors.New("scrape is not supported")

// InvalidSourceError carries a message that can be shown to the user as is.
type InvalidSourceError struct {
	Message string
}

func (e *InvalidSourceError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrInvalidSource.
func (e *InvalidSourceError) Unwrap() error { return ErrInvalidSource }

func invalidSource(format string, args ...any) error {
	return &InvalidSourceError{Message: fmt.Sprintf(format, args...)}
}

// Adapter is the capability set every source kind implements.
type Adapter interface {
	Kind() Kind
	// Track validates rawURL and resolves the channel it points to.
	Track(ctx context.Context, rawURL string) (model.ChannelData, error)
	// Update calls yield for every post of the channel, oldest first unless
	// the kind is NewestFirst. It stops as soon as yield returns false.
	Update(ctx context.Context, updateURL, name string, yield func(model.PostUpdate) bool) error
	// Scrape fetches the content of a post whose update carried none.
	Scrape(ctx context.Context, postURL string) (model.Content, error)
}

// ImageFetcher is implemented by adapters whose updates reference their
// picture by Content.ImageURL instead of carrying the bytes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Options configures the adapters of a Set.
type Options struct {
	NitterBase     string
	KaggleUsername string
	KaggleKey      string
}

// Set holds one adapter per kind.
type Set struct {
	youtube        *YouTube
	rss            *RSS
	twitter        *Twitter
	vk             *VK
	songkick       *SongKick
	grandChallenge *GrandChallenge
	kaggle         *Kaggle
}

// NewSet builds the adapters sharing one HTTP client.
func NewSet(client *Client, opts Options) *Set {
	return &Set{
		youtube:        NewYouTube(client),
		rss:            NewRSS(client),
		twitter:        NewTwitter(client, opts.NitterBase),
		vk:             NewVK(client),
		songkick:       NewSongKick(client),
		grandChallenge: NewGrandChallenge(client),
		kaggle:         NewKaggle(client, opts.KaggleUsername, opts.KaggleKey),
	}
}

// ForKind returns the adapter of a stored Source type tag.
func (s *Set) ForKind(kind Kind) (Adapter, error) {
	switch kind {
	case KindYouTube:
		return s.youtube, nil
	case KindRSS:
		return s.rss, nil
	case KindTwitter:
		return s.twitter, nil
	case KindVK:
		return s.vk, nil
	case KindSongKick:
		return s.songkick, nil
	case KindGrandChallenge:
		return s.grandChallenge, nil
	case KindKaggle:
		return s.kaggle, nil
	}
	return nil, fmt.Errorf("unknown adapter kind %q", kind)
}

// ForURL picks the adapter for a user-supplied URL by its domain. URLs of
// unknown domains are handed to the RSS adapter, whose Track rejects them if
// they are not feeds.
func (s *Set) ForURL(rawURL string) (Adapter, error) {
	kind, err := KindForURL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.ForKind(kind)
}

// KindForURL maps a URL to the adapter kind responsible for its domain.
func KindForURL(rawURL string) (Kind, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", invalidSource("This is not a valid link: %s", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	labels := strings.Split(host, ".")
	if labels[0] == "nitter" {
		return KindTwitter, nil
	}
	domain := host
	if len(labels) > 2 {
		domain = strings.Join(labels[len(labels)-2:], ".")
	}

	switch domain {
	case "youtube.com", "youtu.be":
		return KindYouTube, nil
	case "twitter.com", "x.com":
		return KindTwitter, nil
	case "vk.com":
		return KindVK, nil
	case "songkick.com":
		return KindSongKick, nil
	case "grand-challenge.org":
		return KindGrandChallenge, nil
	case "kaggle.com":
		return KindKaggle, nil
	}
	return KindRSS, nil
}
