package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// testClient connects to MARKETSYNC_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("MARKETSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETSYNC_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "marketsync-test:" + t.Name() + ":"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func streamOf(key string) domain.StreamID {
	var id domain.StreamID
	copy(id[:], key)
	return id
}

func TestStreamChannelName(t *testing.T) {
	id := streamOf("market-7")
	want := "stream:0x6d61726b65742d37000000000000000000000000000000000000000000000000"
	if got := StreamChannelName(id); got != want {
		t.Errorf("StreamChannelName = %s, want %s", got, want)
	}
}

func TestClient_Key(t *testing.T) {
	c := NewFromRedis(nil, "app:")
	if got := c.Key("snapshot:", "0x01"); got != "app:snapshot:0x01" {
		t.Errorf("Key = %s", got)
	}
}

func TestHasPattern(t *testing.T) {
	tests := map[string]bool{
		"marketsync:changes": false,
		"stream:*":           true,
		"stream:[ab]":        true,
		"stream:?":           true,
	}
	for ch, want := range tests {
		if got := hasPattern(ch); got != want {
			t.Errorf("hasPattern(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestSnapshotStore_Integration(t *testing.T) {
	c := testClient(t)
	store := NewSnapshotStore(c, time.Minute)
	ctx := context.Background()
	id := streamOf("market-7")
	var schema domain.SchemaID
	schema[0] = 1

	if _, err := store.GetByKey(ctx, schema, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, schema, id, domain.Record{"currentPrice": 60}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	defer store.Delete(ctx, id)

	rec, err := store.GetByKey(ctx, schema, id)
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if rec["currentPrice"] == nil {
		t.Errorf("record = %v", rec)
	}
	if _, err := store.GetByKey(ctx, domain.SchemaID{}, id); err == nil {
		t.Error("expected schema mismatch error")
	}
}

func TestStreamChannel_Integration(t *testing.T) {
	c := testClient(t)
	sc := NewStreamChannel(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	id := streamOf("market-7")

	got := make(chan domain.Record, 1)
	detach, err := sc.Subscribe(ctx, id, func(r domain.Record) { got <- r })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer detach()

	if err := sc.Publish(ctx, id, domain.Record{"totalVolume": 5000}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case rec := <-got:
		if rec["totalVolume"] == nil {
			t.Errorf("record = %v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no record delivered")
	}
	detach()
	detach()
}

func TestRateLimiter_Integration(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: allowed=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "client", 3, time.Minute); ok {
		t.Error("fourth request should be limited")
	}
}

func TestSignalBus_Integration(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "changes")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Publish(ctx, "changes", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("payload = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
}
