package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
)

// RedisStore keeps a capped list of recent reports plus the latest one in
// Redis, so several dashboards can read them.
type RedisStore struct {
	client     *redis.Client
	key        string
	maxEntries int64
}

// NewRedisStore connects lazily to addr. Reports go to the list at key,
// trimmed to maxEntries, and the newest is also kept at key+":latest".
func NewRedisStore(addr, password, key string, maxEntries int) *RedisStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		PoolSize:     4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &RedisStore{client: client, key: key, maxEntries: int64(maxEntries)}
}

func (s *RedisStore) latestKey() string { return s.key + ":latest" }

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	return nil
}

// SaveReport pushes r and updates the latest key in one transaction.
func (s *RedisStore) SaveReport(ctx context.Context, r liveness.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.maxEntries-1)
		pipe.Set(ctx, s.latestKey(), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	return nil
}

// Latest returns the newest stored report.
func (s *RedisStore) Latest(ctx context.Context) (liveness.Report, error) {
	var r liveness.Report
	data, err := s.client.Get(ctx, s.latestKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return r, ErrNoReports
		}
		return r, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to parse report: %w", err)
	}
	return r, nil
}

// Recent returns up to n reports, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]liveness.Report, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	reports := make([]liveness.Report, 0, len(raw))
	for _, item := range raw {
		var r liveness.Report
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to parse report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
