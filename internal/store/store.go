// Package store persists terminal task snapshots in Redis so task
// queries and event replay survive a restart.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/task"
)

const taskKeyPrefix = "groundcontrol:task:"

// Config tunes the store.
type Config struct {
	// URL is a redis connection url, e.g. redis://localhost:6379/0.
	URL string
	// TTL bounds how long a snapshot outlives its task. Zero means 24h.
	TTL time.Duration
}

// Store is a Redis-backed task archive.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger.Info("Redis connected", zap.Duration("snapshot_ttl", ttl))
	return &Store{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// SaveTask writes one task snapshot under its own key with the store TTL.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if err := s.rdb.Set(ctx, taskKeyPrefix+t.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTask fetches one snapshot. Missing keys map to task.ErrNotFound.
func (s *Store) LoadTask(ctx context.Context, id string) (*task.Task, error) {
	data, err := s.rdb.Get(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// LoadTasks scans every stored snapshot. Snapshots that fail to decode
// are skipped with a warning rather than failing the whole restore.
func (s *Store) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	var (
		tasks  []*task.Task
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, taskKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan tasks: %w", err)
		}
		for _, key := range keys {
			data, err := s.rdb.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				// Expired between scan and get.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", key, err)
			}
			var t task.Task
			if err := json.Unmarshal(data, &t); err != nil {
				s.logger.Warn("skipping undecodable task snapshot",
					zap.String("key", key), zap.Error(err))
				continue
			}
			tasks = append(tasks, &t)
		}
		cursor = next
		if cursor == 0 {
			return tasks, nil
		}
	}
}

// DeleteTask removes a snapshot. Deleting a missing key is a no-op.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, taskKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Ping checks the connection, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
