package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"subscriber/internal/model"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example Blog</title>
<link>https://example.com</link>
<item><title>Newest</title><link>https://example.com/2</link><guid>post-2</guid><description>second</description></item>
<item><title>Oldest</title><link>https://example.com/1</link><guid>post-1</guid><description>first</description></item>
</channel></rss>`

// collect drains an Update into a slice, stopping after limit updates when limit > 0.
func collect(t *testing.T, a Adapter, updateURL, name string, limit int) []model.PostUpdate {
	t.Helper()
	var got []model.PostUpdate
	err := a.Update(context.Background(), updateURL, name, func(u model.PostUpdate) bool {
		got = append(got, u)
		return limit <= 0 || len(got) < limit
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return got
}

func TestRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed" {
			_, _ = w.Write([]byte("<html>not a feed</html>"))
			return
		}
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	rss := NewRSS(NewClient(time.Second))

	data, err := rss.Track(context.Background(), srv.URL+"/feed")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	wantData := model.ChannelData{UpdateURL: srv.URL + "/feed", Name: "Example Blog", URL: srv.URL + "/feed"}
	if diff := cmp.Diff(wantData, data); diff != "" {
		t.Errorf("channel mismatch (-want +got):\n%s", diff)
	}

	if _, err := rss.Track(context.Background(), srv.URL+"/page"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource for a page, got %v", err)
	}

	want := []model.PostUpdate{
		{ID: "post-1", URL: "https://example.com/1", Content: &model.Content{Title: "Oldest", Description: "first"}},
		{ID: "post-2", URL: "https://example.com/2", Content: &model.Content{Title: "Newest", Description: "second"}},
	}
	if diff := cmp.Diff(want, collect(t, rss, srv.URL+"/feed", "", 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[:1], collect(t, rss, srv.URL+"/feed", "", 1)); diff != "" {
		t.Errorf("stopped updates mismatch (-want +got):\n%s", diff)
	}
}

func TestYouTube(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/@channel", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("CONSENT"); err != nil || c.Value == "" {
			http.Error(w, "consent required", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`<html><head>
<meta property="og:title" content="OG name">
<meta itemprop="channelId" content="UC123">
<meta itemprop="identifier" content="UC123">
</head></html>`))
	})
	mux.HandleFunc("/@empty", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") != "UC123" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Channel X</title>
<entry><id>yt:video:b</id><title>B</title><link rel="alternate" href="https://www.youtube.com/watch?v=b"/></entry>
<entry><id>yt:video:a</id><title>A</title><link rel="alternate" href="https://www.youtube.com/watch?v=a"/></entry>
</feed>`))
	})

	yt := NewYouTube(NewClient(time.Second))
	yt.feedURL = srv.URL + "/feed?channel_id=%s"

	data, err := yt.Track(context.Background(), srv.URL+"/@channel")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	wantData := model.ChannelData{
		UpdateURL: srv.URL + "/feed?channel_id=UC123",
		Name:      "Channel X",
		URL:       "https://www.youtube.com/channel/UC123",
	}
	if diff := cmp.Diff(wantData, data); diff != "" {
		t.Errorf("channel mismatch (-want +got):\n%s", diff)
	}

	if _, err := yt.Track(context.Background(), srv.URL+"/@empty"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}

	want := []model.PostUpdate{
		{ID: "yt:video:a", URL: "https://www.youtube.com/watch?v=a"},
		{ID: "yt:video:b", URL: "https://www.youtube.com/watch?v=b"},
	}
	if diff := cmp.Diff(want, collect(t, yt, data.UpdateURL, data.Name, 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestTwitter(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/golang/rss" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>golang</title>
<item><title>second tweet</title><link>%[1]s/golang/status/2#m</link></item>
<item><title>first tweet</title><link>%[1]s/golang/status/1#m</link></item>
</channel></rss>`, srv.URL)
	}))
	defer srv.Close()

	tw := NewTwitter(NewClient(time.Second), srv.URL)

	data, err := tw.Track(context.Background(), "https://x.com/golang/")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if data.Name != "golang" || data.UpdateURL != "https://twitter.com/golang" {
		t.Errorf("unexpected channel data %+v", data)
	}

	for _, bad := range []string{"https://twitter.com/golang/status/1", "https://twitter.com/"} {
		if _, err := tw.Track(context.Background(), bad); !errors.Is(err, ErrInvalidSource) {
			t.Errorf("Track(%s): expected ErrInvalidSource, got %v", bad, err)
		}
	}

	want := []model.PostUpdate{
		{ID: "golang/status/1", URL: srv.URL + "/golang/status/1#m", Content: &model.Content{Description: "first tweet"}},
		{ID: "golang/status/2", URL: srv.URL + "/golang/status/2#m", Content: &model.Content{Description: "second tweet"}},
	}
	if diff := cmp.Diff(want, collect(t, tw, data.UpdateURL, data.Name, 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}

	if _, err := tw.Scrape(context.Background(), "https://twitter.com/golang/status/1"); !errors.Is(err, ErrScrapeUnsupported) {
		t.Errorf("expected ErrScrapeUnsupported, got %v", err)
	}
}

func TestVK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
<div data-post-id="-1_3"></div>
<div data-post-id="-1_2"><div data-post-id="-1_2"></div></div>
<div data-post-id="5_1"></div>
<div data-post-id="-1_1"></div>
</body></html>`))
	}))
	defer srv.Close()

	vk := NewVK(NewClient(time.Second))

	data, err := vk.Track(context.Background(), "https://vk.com/club")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if data.Name != "club" {
		t.Errorf("name = %q, want club", data.Name)
	}
	if _, err := vk.Track(context.Background(), "https://vk.com/wall-1_2/extra"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}

	want := []model.PostUpdate{
		{ID: "1_1", URL: "https://vk.com/wall-1_1", Content: &model.Content{}},
		{ID: "1_2", URL: "https://vk.com/wall-1_2", Content: &model.Content{}},
		{ID: "1_3", URL: "https://vk.com/wall-1_3", Content: &model.Content{}},
	}
	if diff := cmp.Diff(want, collect(t, vk, srv.URL, data.Name, 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestSongKick(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/artists/42-band", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="artist-header">
<h1> The Band </h1><img class="artist-profile-image" src="/img/band.jpg">
</div></body></html>`))
	})
	mux.HandleFunc("/img/band.jpg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("JPEG"))
	})
	mux.HandleFunc("/artists/42-band/calendar", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="calendar-summary"><ol>
<li class="event-listing"><a href="/concerts/2-later"><time datetime="2026-12-02"></time>
<div class="event-details"><p class="primary-detail">Berlin</p><p class="secondary-detail">Arena</p></div></a></li>
<li class="event-listing"><a href="/concerts/1-soon"><time datetime="2026-11-01"></time>
<div class="event-details"><p class="primary-detail">Paris</p><p class="secondary-detail">Club</p></div></a></li>
</ol></div></body></html>`))
	})

	sk := NewSongKick(NewClient(time.Second))

	data, err := sk.Track(context.Background(), srv.URL+"/artists/42-band/calendar")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	wantData := model.ChannelData{
		UpdateURL: srv.URL + "/artists/42-band/calendar",
		Name:      "The Band",
		Image:     []byte("JPEG"),
		URL:       srv.URL + "/artists/42-band",
	}
	if diff := cmp.Diff(wantData, data); diff != "" {
		t.Errorf("channel mismatch (-want +got):\n%s", diff)
	}

	if _, err := sk.Track(context.Background(), srv.URL+"/venues/1"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}

	want := []model.PostUpdate{
		{
			ID:      "/concerts/1-soon",
			URL:     srv.URL + "/concerts/1-soon#The%20Band",
			Content: &model.Content{Title: "Paris", Description: "Club at 2026-11-01"},
		},
		{
			ID:      "/concerts/2-later",
			URL:     srv.URL + "/concerts/2-later#The%20Band",
			Content: &model.Content{Title: "Berlin", Description: "Arena at 2026-12-02"},
		},
	}
	if diff := cmp.Diff(want, collect(t, sk, data.UpdateURL, data.Name, 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestGrandChallenge(t *testing.T) {
	var requests, imageRequests atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/logo/a.png" {
			imageRequests.Add(1)
			_, _ = w.Write([]byte("PNG"))
			return
		}
		requests.Add(1)
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(`<html><body>
<div class="card gc-card"><a href="https://a.grand-challenge.org/"></a><div><img src="` + srv.URL + `/logo/a.png"></div><div><h5 class="card-title"> A </h5></div></div>
<div class="card gc-card"><a href="https://b.grand-challenge.org/"></a><div></div><div><h5 class="card-title">B</h5></div></div>
</body></html>`))
		case "2":
			_, _ = w.Write([]byte(`<html><body><div class="card gc-card"><a href="https://c.grand-challenge.org/"></a><div class="card-title">C</div></div></body></html>`))
		default:
			_, _ = w.Write([]byte(`<html><body></body></html>`))
		}
	}))
	defer srv.Close()

	gc := NewGrandChallenge(NewClient(time.Second))
	gc.base = srv.URL

	data, err := gc.Track(context.Background(), "https://grand-challenge.org/anything")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	got := collect(t, gc, data.UpdateURL, data.Name, 0)
	var ids []string
	for _, u := range got {
		ids = append(ids, u.ID)
	}
	wantIDs := []string{"https://a.grand-challenge.org/", "https://b.grand-challenge.org/", "https://c.grand-challenge.org/"}
	if diff := cmp.Diff(wantIDs, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].Content.Title != "A" {
		t.Errorf("title = %q, want A", got[0].Content.Title)
	}
	if want := srv.URL + "/logo/a.png"; got[0].Content.ImageURL != want {
		t.Errorf("image url = %q, want %q", got[0].Content.ImageURL, want)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
	if n := imageRequests.Load(); n != 0 {
		t.Errorf("listing walk downloaded %d images, want 0", n)
	}

	img, err := gc.FetchImage(context.Background(), got[0].Content.ImageURL)
	if err != nil || string(img) != "PNG" {
		t.Errorf("FetchImage = %q, %v", img, err)
	}

	requests.Store(0)
	collect(t, gc, data.UpdateURL, data.Name, 1)
	if n := requests.Load(); n != 1 {
		t.Errorf("early stop made %d requests, want 1", n)
	}
}

func TestGrandChallengeBrokenListing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	gc := NewGrandChallenge(NewClient(time.Second))
	gc.base = srv.URL

	err := gc.Update(context.Background(), "", "", func(model.PostUpdate) bool { return true })
	if err == nil {
		t.Fatal("expected error when the first page is missing")
	}
}

func TestKaggle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != "user" || key != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/competitions/list" || r.URL.Query().Get("sortBy") != "recentlyCreated" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
{"id": 2, "ref": "https://www.kaggle.com/competitions/two", "title": "Two", "description": "second"},
{"id": 1, "ref": "one", "url": "https://www.kaggle.com/competitions/one", "title": "One", "description": "first"}
]`))
	}))
	defer srv.Close()

	k := NewKaggle(NewClient(time.Second), "user", "key")
	k.base = srv.URL

	want := []model.PostUpdate{
		{ID: "2", URL: "https://www.kaggle.com/competitions/two", Content: &model.Content{Title: "Two", Description: "second"}},
		{ID: "1", URL: "https://www.kaggle.com/competitions/one", Content: &model.Content{Title: "One", Description: "first"}},
	}
	if diff := cmp.Diff(want, collect(t, k, "", "", 0)); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}

	wrong := NewKaggle(NewClient(time.Second), "user", "bad")
	wrong.base = srv.URL
	var status *StatusError
	err := wrong.Update(context.Background(), "", "", func(model.PostUpdate) bool { return true })
	if !errors.As(err, &status) || status.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 StatusError, got %v", err)
	}
}

func TestKaggleWithoutCredentials(t *testing.T) {
	k := NewKaggle(NewClient(time.Second), "", "")

	if _, err := k.Track(context.Background(), "https://www.kaggle.com/competitions"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
	if err := k.Update(context.Background(), "", "", func(model.PostUpdate) bool { return true }); err == nil {
		t.Error("expected error without credentials")
	}
}
