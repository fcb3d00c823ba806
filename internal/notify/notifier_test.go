package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+"|"+message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_AllowList(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"quality_degraded", " subscribe_failed "}, testLogger())

	ctx := context.Background()
	_ = n.Notify(ctx, "quality_degraded", "t", "m")
	_ = n.Notify(ctx, "quality_recovered", "t", "m")
	_ = n.Notify(ctx, "subscribe_failed", "t", "m")

	if got := s.count(); got != 2 {
		t.Errorf("sent %d, want 2", got)
	}

	if err := n.NotifyAll(ctx, "t", "m"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if got := s.count(); got != 3 {
		t.Errorf("sent %d after NotifyAll, want 3", got)
	}
}

func TestNotifier_EmptyAllowListPassesEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	_ = n.Notify(context.Background(), "anything", "t", "m")
	if s.count() != 1 {
		t.Errorf("sent %d, want 1", s.count())
	}
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "e", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v, want bad sender failure", err)
	}
	if good.count() != 1 {
		t.Errorf("good sender got %d, want 1", good.count())
	}
}

func TestNotifier_Cooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger(),
		WithCooldown(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_ = n.Notify(ctx, "quality_degraded", "t", "m")
	_ = n.Notify(ctx, "quality_degraded", "t", "m")
	_ = n.Notify(ctx, "quality_recovered", "t", "m")
	if s.count() != 2 {
		t.Fatalf("sent %d, want 2 (repeat suppressed)", s.count())
	}

	now = now.Add(time.Minute)
	_ = n.Notify(ctx, "quality_degraded", "t", "m")
	if s.count() != 3 {
		t.Errorf("sent %d after cooldown, want 3", s.count())
	}
}

func TestTelegramSender(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	if err := s.Send(context.Background(), "Degraded", "quality fair"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "42" || gotBody["text"] != "*Degraded*\nquality fair" {
		t.Errorf("body = %v", gotBody)
	}
	if s.Name() != "telegram" {
		t.Errorf("Name = %q", s.Name())
	}
}

func TestDiscordSender(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "Recovered", "quality good"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotBody["content"] != "**Recovered**\nquality good" {
		t.Errorf("content = %q", gotBody["content"])
	}
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 429") {
		t.Fatalf("err = %v, want status error", err)
	}
}
