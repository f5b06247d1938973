// Package cache implements the policy cache, the per-(device, subject)
// accumulation buffers and the aggregation due-queue on top of a shared
// Redis keyspace.
//
// The gateway keeps no authoritative in-process copy of any of this
// state: the store is the single source of truth and every mutation is
// pushed into the backend's atomic primitives.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IgorTelles9/gateway-privacidade/internal/policy"
)

// RedisClient is the minimal command surface the store needs. The
// concrete go-redis adapter lives in internal/infra — code in
// cmd/gateway creates it and injects it here; tests inject an
// in-memory fake.
type RedisClient interface {
	// Get returns the value at key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	LPush(ctx context.Context, key string, value []byte) error
	// LRangeDel returns the full list at key and deletes it in a single
	// atomic operation. Elements appended concurrently land in a fresh
	// list and are not lost.
	LRangeDel(ctx context.Context, key string) ([][]byte, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZPopByScore atomically returns and removes every member of the
	// sorted set at key whose score is <= max.
	ZPopByScore(ctx context.Context, key string, max float64) ([]string, error)
}

// Task identifies a pending aggregation for one (device, subject) pair.
type Task struct {
	DeviceID  string
	SubjectID string
}

// Store mediates all gateway access to the shared keyspace.
type Store struct {
	client   RedisClient
	ttl      time.Duration
	queueKey string
}

// New creates a Store. ttl bounds the validity of cached policies and
// queueKey names the sorted set holding the aggregation due-queue.
func New(client RedisClient, ttl time.Duration, queueKey string) *Store {
	return &Store{client: client, ttl: ttl, queueKey: queueKey}
}

func policyKey(deviceID, subjectID string) string {
	return "policy:" + deviceID + ":" + subjectID
}

func dataKey(deviceID, subjectID string) string {
	return "data:" + deviceID + ":" + subjectID
}

// GetPolicy returns the cached policy for (device, subject), or
// (nil, nil) when the entry is absent or expired.
func (s *Store) GetPolicy(ctx context.Context, deviceID, subjectID string) (policy.PrivacyPolicy, error) {
	raw, err := s.client.Get(ctx, policyKey(deviceID, subjectID))
	if err != nil {
		return nil, fmt.Errorf("redis GET policy: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var p policy.PrivacyPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal cached policy: %w", err)
	}
	return p, nil
}

// SetPolicy caches a policy for (device, subject) with the store TTL.
func (s *Store) SetPolicy(ctx context.Context, deviceID, subjectID string, p policy.PrivacyPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := s.client.Set(ctx, policyKey(deviceID, subjectID), raw, s.ttl); err != nil {
		return fmt.Errorf("redis SET policy: %w", err)
	}
	return nil
}

// InvalidatePolicy evicts the cached policy for (device, subject).
// Idempotent; a later read misses regardless of remaining TTL.
func (s *Store) InvalidatePolicy(ctx context.Context, deviceID, subjectID string) error {
	if err := s.client.Del(ctx, policyKey(deviceID, subjectID)); err != nil {
		return fmt.Errorf("redis DEL policy: %w", err)
	}
	return nil
}

// AppendPoint prepends a data-point value to the accumulation buffer of
// (device, subject), creating the buffer when absent.
func (s *Store) AppendPoint(ctx context.Context, deviceID, subjectID string, value float64) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal data point: %w", err)
	}
	if err := s.client.LPush(ctx, dataKey(deviceID, subjectID), raw); err != nil {
		return fmt.Errorf("redis LPUSH data point: %w", err)
	}
	return nil
}

// DrainPoints atomically reads and deletes the accumulation buffer of
// (device, subject). The returned slice may be empty; after the call the
// buffer is empty or gone.
func (s *Store) DrainPoints(ctx context.Context, deviceID, subjectID string) ([]float64, error) {
	items, err := s.client.LRangeDel(ctx, dataKey(deviceID, subjectID))
	if err != nil {
		return nil, fmt.Errorf("redis drain data points: %w", err)
	}
	points := make([]float64, 0, len(items))
	for _, item := range items {
		var v float64
		if err := json.Unmarshal(item, &v); err != nil {
			slog.Warn("[Store] Skipping undecodable data point",
				"device_id", deviceID, "titular_id", subjectID, "error", err)
			continue
		}
		points = append(points, v)
	}
	return points, nil
}

// Schedule upserts an aggregation task for (device, subject) due at the
// given time. A prior entry for the same pair has its due time replaced,
// so the queue holds at most one entry per pair.
func (s *Store) Schedule(ctx context.Context, deviceID, subjectID string, due time.Time) error {
	member := deviceID + ":" + subjectID
	score := float64(due.UnixNano()) / float64(time.Second)
	if err := s.client.ZAdd(ctx, s.queueKey, member, score); err != nil {
		return fmt.Errorf("redis ZADD aggregation task: %w", err)
	}
	return nil
}

// PopDue atomically returns and removes every task due at or before now.
func (s *Store) PopDue(ctx context.Context, now time.Time) ([]Task, error) {
	max := float64(now.UnixNano()) / float64(time.Second)
	members, err := s.client.ZPopByScore(ctx, s.queueKey, max)
	if err != nil {
		return nil, fmt.Errorf("redis pop due tasks: %w", err)
	}
	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		deviceID, subjectID, ok := strings.Cut(m, ":")
		if !ok {
			slog.Warn("[Store] Skipping malformed task member", "member", m)
			continue
		}
		tasks = append(tasks, Task{DeviceID: deviceID, SubjectID: subjectID})
	}
	return tasks, nil
}
