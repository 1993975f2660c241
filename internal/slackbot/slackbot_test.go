package slackbot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/slack-go/slack"

	"subscriber/internal/delivery"
	"subscriber/internal/model"
)

type call struct {
	Method string
	Values url.Values
}

// slackServer fakes the Web API methods the bot calls and a command response URL.
type slackServer struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []call
	replies []string
}

func newSlackServer(t *testing.T) *slackServer {
	t.Helper()
	s := &slackServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/respond" {
			var msg slack.WebhookMessage
			if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.mu.Lock()
			s.replies = append(s.replies, msg.Text)
			s.mu.Unlock()
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		method := r.URL.Path[1:]
		s.mu.Lock()
		s.calls = append(s.calls, call{Method: method, Values: r.PostForm})
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		channel := r.PostForm.Get("channel")
		if channel == "C404" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
			return
		}
		switch method {
		case "chat.postMessage":
			_, _ = w.Write([]byte(`{"ok":true,"channel":"` + channel + `","ts":"1700000000.000100"}`))
		case "chat.delete":
			_, _ = w.Write([]byte(`{"ok":true,"channel":"` + channel + `","ts":"` + r.PostForm.Get("ts") + `"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"unknown_method"}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

type fakeCommands struct {
	subscribed []string
	sources    []model.SourceInfo
	err        error
}

func (f *fakeCommands) Subscribe(_ context.Context, kind, chatID, rawURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.subscribed = append(f.subscribed, kind+"/"+chatID+"/"+rawURL)
	return "Subscribed to Example", nil
}

func (f *fakeCommands) ListSources(context.Context, string, string) ([]model.SourceInfo, error) {
	return f.sources, f.err
}

func newTestBot(t *testing.T, commands Commands) (*Bot, *slackServer) {
	t.Helper()
	srv := newSlackServer(t)
	api := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return newBot(api, commands, slog.New(slog.NewTextHandler(io.Discard, nil))), srv
}

type renderedBlock struct {
	Type string `json:"type"`
	Text struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"text"`
}

func TestNotify(t *testing.T) {
	b, srv := newTestBot(t, &fakeCommands{})

	receipt, err := b.Notify(context.Background(), "C1", delivery.Message{Title: "T", Description: "D", URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if diff := cmp.Diff(delivery.Receipt{MessageID: "1700000000.000100", Delivered: true}, receipt); diff != "" {
		t.Errorf("receipt mismatch (-want +got):\n%s", diff)
	}

	if len(srv.calls) != 1 || srv.calls[0].Method != "chat.postMessage" {
		t.Fatalf("calls = %+v, want one chat.postMessage", srv.calls)
	}
	form := srv.calls[0].Values
	if form.Get("channel") != "C1" || form.Get("text") != "T" {
		t.Errorf("channel = %q, text = %q", form.Get("channel"), form.Get("text"))
	}
	var got []renderedBlock
	if err := json.Unmarshal([]byte(form.Get("blocks")), &got); err != nil {
		t.Fatalf("decode blocks: %v", err)
	}
	want := []struct{ Type, TextType, Text string }{
		{"header", "plain_text", "T"},
		{"section", "mrkdwn", "D"},
		{"section", "mrkdwn", "https://example.com/a"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Type != w.Type || got[i].Text.Type != w.TextType || got[i].Text.Text != w.Text {
			t.Errorf("block %d = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestNotifyURLOnly(t *testing.T) {
	b, srv := newTestBot(t, &fakeCommands{})

	if _, err := b.Notify(context.Background(), "C1", delivery.Message{URL: "https://example.com/a"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	var got []renderedBlock
	if err := json.Unmarshal([]byte(srv.calls[0].Values.Get("blocks")), &got); err != nil {
		t.Fatalf("decode blocks: %v", err)
	}
	if len(got) != 1 || got[0].Type != "section" || got[0].Text.Text != "https://example.com/a" {
		t.Errorf("blocks = %+v, want only the url section", got)
	}
}

func TestNotifyError(t *testing.T) {
	b, _ := newTestBot(t, &fakeCommands{})

	if _, err := b.Notify(context.Background(), "C404", delivery.Message{URL: "u"}); err == nil {
		t.Fatal("expected error for an unknown channel")
	}
}

func TestRemove(t *testing.T) {
	b, srv := newTestBot(t, &fakeCommands{})

	if err := b.Remove(context.Background(), "C1", "1700000000.000100"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(srv.calls) != 1 || srv.calls[0].Method != "chat.delete" {
		t.Fatalf("calls = %+v, want one chat.delete", srv.calls)
	}
	form := srv.calls[0].Values
	if form.Get("channel") != "C1" || form.Get("ts") != "1700000000.000100" {
		t.Errorf("channel = %q, ts = %q", form.Get("channel"), form.Get("ts"))
	}

	if err := b.Remove(context.Background(), "C404", "1"); err == nil {
		t.Error("expected error for an unknown channel")
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		commands *fakeCommands
		want     string
		wantSubs []string
	}{
		{
			name:     "subscribe",
			text:     "  https://example.com/feed ",
			commands: &fakeCommands{},
			want:     "Subscribed to Example",
			wantSubs: []string{"slack_bot/C1/https://example.com/feed"},
		},
		{
			name:     "subscribe failure",
			text:     "https://example.com/feed",
			commands: &fakeCommands{err: errors.New("db down")},
			want:     "Failed to subscribe",
		},
		{
			name:     "empty",
			text:     " ",
			commands: &fakeCommands{},
			want:     usageText,
		},
		{
			name:     "list",
			text:     "list",
			commands: &fakeCommands{sources: []model.SourceInfo{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}},
			want:     "A\nB",
		},
		{
			name:     "empty list",
			text:     "list",
			commands: &fakeCommands{},
			want:     noSubscriptions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, srv := newTestBot(t, tt.commands)
			b.handleCommand(context.Background(), slack.SlashCommand{
				ChannelID:   "C1",
				UserID:      "U1",
				Command:     "/subscriber",
				Text:        tt.text,
				ResponseURL: srv.URL + "/respond",
			})

			if diff := cmp.Diff([]string{tt.want}, srv.replies); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSubs, tt.commands.subscribed); diff != "" {
				t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	b, _ := newTestBot(t, &fakeCommands{})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
	b.Stop()
	if b.Kind() != delivery.KindSlackBot {
		t.Errorf("kind = %q", b.Kind())
	}
}
