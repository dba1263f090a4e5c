package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ensnotify/internal/notify"
	"ensnotify/pkg/logx"
)

func TestSendEmbed(t *testing.T) {
	t.Parallel()
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(logx.Nop())
	err := s.SendEmbed(context.Background(), srv.URL, notify.Embed{
		Title: "Proposal", Description: "body", Footer: "meta",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.Embeds) != 2 {
		t.Fatalf("want 2 embeds (card + footer), got %d", len(got.Embeds))
	}
	if got.Embeds[0].Title != "Proposal" || got.Embeds[1].Description != "meta" {
		t.Fatalf("unexpected payload: %+v", got.Embeds)
	}
}

func TestSendEmbedNoFooter(t *testing.T) {
	t.Parallel()
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p struct {
			Embeds []json.RawMessage `json:"embeds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&p)
		count = len(p.Embeds)
	}))
	defer srv.Close()

	s := New(logx.Nop())
	if err := s.SendEmbed(context.Background(), srv.URL, notify.Embed{Title: "t", Description: "d"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if count != 1 {
		t.Fatalf("want single embed without footer, got %d", count)
	}
}

func TestSendEmbedServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(logx.Nop())
	if err := s.SendEmbed(context.Background(), srv.URL, notify.Embed{Title: "t"}); err == nil {
		t.Fatal("want error on 429 response")
	}
}
