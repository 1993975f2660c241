package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"subscriber/internal/delivery"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		msg  delivery.Message
		want payload
	}{
		{
			name: "full message",
			msg:  delivery.Message{Title: "T", Description: "D", URL: "https://example.com"},
			want: payload{Text: "T", Blocks: []block{
				{Type: "header", Text: text{Type: "plain_text", Text: "T"}},
				{Type: "section", Text: text{Type: "mrkdwn", Text: "D"}},
				{Type: "section", Text: text{Type: "mrkdwn", Text: "https://example.com"}},
			}},
		},
		{
			name: "url only",
			msg:  delivery.Message{URL: "https://example.com"},
			want: payload{Blocks: []block{
				{Type: "section", Text: text{Type: "mrkdwn", Text: "https://example.com"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, render(tt.msg)); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNotify(t *testing.T) {
	var gotPath string
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/services/invalid" {
			http.Error(w, "invalid_token", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSlack(srv.URL+"/services", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	receipt, err := s.Notify(context.Background(), "T000/B000/XXX", delivery.Message{Title: "T", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if receipt.Delivered || receipt.MessageID != "" {
		t.Errorf("receipt = %+v, want no message", receipt)
	}
	if gotPath != "/services/T000/B000/XXX" {
		t.Errorf("path = %q", gotPath)
	}
	if got.Text != "T" || len(got.Blocks) != 2 {
		t.Errorf("unexpected payload %+v", got)
	}

	if _, err := s.Notify(context.Background(), "invalid", delivery.Message{URL: "https://example.com"}); err == nil {
		t.Error("expected error for rejected webhook")
	}

	if err := s.Remove(context.Background(), "T000/B000/XXX", "1"); err != nil {
		t.Errorf("remove: %v", err)
	}
}
