package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// SnapshotStore keeps the last record of each stream in a Redis hash
// "snapshot:<0x-id>" with fields data, schema and updated_at.
type SnapshotStore struct {
	c   *Client
	ttl time.Duration
}

var _ domain.SnapshotReader = (*SnapshotStore)(nil)

// NewSnapshotStore creates a SnapshotStore. A zero ttl keeps snapshots
// forever.
func NewSnapshotStore(c *Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{c: c, ttl: ttl}
}

func (s *SnapshotStore) key(id domain.StreamID) string {
	return s.c.Key("snapshot:", id.String())
}

// GetByKey returns the stored record. A missing hash or field is
// domain.ErrNotFound. schema is ignored when the stored snapshot has none.
func (s *SnapshotStore) GetByKey(ctx context.Context, schema domain.SchemaID, id domain.StreamID) (domain.Record, error) {
	vals, err := s.c.rdb.HMGet(ctx, s.key(id), "data", "schema").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot %s: %w", id, err)
	}

	data, ok := vals[0].(string)
	if !ok || data == "" {
		return nil, domain.ErrNotFound
	}
	if stored, ok := vals[1].(string); ok && stored != "" && stored != schema.String() {
		return nil, fmt.Errorf("redis: get snapshot %s: schema %s does not match %s", id, stored, schema)
	}

	rec, err := domain.DecodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot %s: %w", id, err)
	}
	return rec, nil
}

// Put stores rec as the latest snapshot of the stream.
func (s *SnapshotStore) Put(ctx context.Context, schema domain.SchemaID, id domain.StreamID, rec domain.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}

	key := s.key(id)
	pipe := s.c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"data", data,
		"schema", schema.String(),
		"updated_at", strconv.FormatInt(time.Now().UnixMilli(), 10),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put snapshot %s: %w", id, err)
	}
	return nil
}

// Delete removes the snapshot of the stream.
func (s *SnapshotStore) Delete(ctx context.Context, id domain.StreamID) error {
	if err := s.c.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete snapshot %s: %w", id, err)
	}
	return nil
}
