package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// StreamChannel is a push channel adapter where every stream is one Redis
// Pub/Sub channel named "stream:<0x-id>". Payloads are JSON records, or JSON
// strings wrapping a record.
type StreamChannel struct {
	c      *Client
	logger *slog.Logger
}

var _ domain.StreamSubscriber = (*StreamChannel)(nil)

// NewStreamChannel creates a StreamChannel.
func NewStreamChannel(c *Client, logger *slog.Logger) *StreamChannel {
	return &StreamChannel{
		c:      c,
		logger: logger.With(slog.String("component", "redis_stream_channel")),
	}
}

// StreamChannelName returns the un-prefixed channel for a stream.
func StreamChannelName(id domain.StreamID) string {
	return "stream:" + id.String()
}

// Subscribe attaches onRecord to the stream's channel. A subscription the
// server does not confirm is returned as an error.
func (s *StreamChannel) Subscribe(ctx context.Context, id domain.StreamID, onRecord domain.RecordHandler) (func(), error) {
	channel := s.c.Key(StreamChannelName(id))
	pubsub, err := subscribe(ctx, s.c.rdb, channel)
	if err != nil {
		return nil, fmt.Errorf("redis: subscribe stream %s: %w", id, err)
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				rec, err := domain.DecodeRecord([]byte(msg.Payload))
				if err != nil {
					s.logger.Debug("dropping undecodable record",
						slog.String("stream", id.String()),
						slog.String("error", err.Error()),
					)
					continue
				}
				onRecord(rec)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}, nil
}

// Publish sends rec on the stream's channel. It is used to replay recorded
// traffic and by integration tests.
func (s *StreamChannel) Publish(ctx context.Context, id domain.StreamID, rec domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	if err := s.c.rdb.Publish(ctx, s.c.Key(StreamChannelName(id)), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish stream %s: %w", id, err)
	}
	return nil
}
