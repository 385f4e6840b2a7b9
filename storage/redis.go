package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// SuppressionRecord is the value stored under a dedupe key so an operator
// inspecting redis can see when and where the suppression was armed.
type SuppressionRecord struct {
	DedupeKey string    `msgpack:"dedupe_key"`
	ArmedAt   time.Time `msgpack:"armed_at"`
	Node      string    `msgpack:"node,omitempty"`
}

// RedisSuppressor shares the dedupe suppression state machine across
// engine nodes. The key TTL is the suppression interval: SET NX PX arms
// suppression atomically, expiry re-arms it, Release drops it early.
type RedisSuppressor struct {
	client   *redis.Client
	interval time.Duration
	node     string
	logger   *zap.SugaredLogger
}

// NewRedisSuppressor creates a suppressor backed by the given redis client
func NewRedisSuppressor(client *redis.Client, interval time.Duration, node string, logger *zap.SugaredLogger) *RedisSuppressor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RedisSuppressor{client: client, interval: interval, node: node, logger: logger}
}

func (s *RedisSuppressor) key(dedupeKey string) string {
	return "argus:suppress:" + dedupeKey
}

// ShouldEmit atomically claims the dedupe key. The first caller within an
// interval wins and emits; everyone else is suppressed until the TTL runs
// out.
func (s *RedisSuppressor) ShouldEmit(ctx context.Context, dedupeKey string) (bool, error) {
	rec, err := msgpack.Marshal(SuppressionRecord{
		DedupeKey: dedupeKey,
		ArmedAt:   time.Now().UTC(),
		Node:      s.node,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode suppression record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(dedupeKey), rec, s.interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis suppression check failed: %w", err)
	}
	return ok, nil
}

// Release drops the suppression early, typically when the underlying
// alert was resolved and a recurrence should page again.
func (s *RedisSuppressor) Release(ctx context.Context, dedupeKey string) error {
	if err := s.client.Del(ctx, s.key(dedupeKey)).Err(); err != nil {
		return fmt.Errorf("redis suppression release failed: %w", err)
	}
	return nil
}

// Inspect decodes the suppression record for a dedupe key, nil when the
// key is not armed. Diagnostic surface only.
func (s *RedisSuppressor) Inspect(ctx context.Context, dedupeKey string) (*SuppressionRecord, error) {
	raw, err := s.client.Get(ctx, s.key(dedupeKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis suppression inspect failed: %w", err)
	}
	var rec SuppressionRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode suppression record: %w", err)
	}
	return &rec, nil
}
