// Package session caches the local user's messaging session in Redis so a
// restarted client can pick up unread counters and unconfirmed sends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"workhub/collab/internal/store"
)

const defaultTTL = 7 * 24 * time.Hour

// Snapshot is the part of the state tree worth keeping across restarts.
type Snapshot struct {
	ActiveSpace string
	Unread      map[string]int
	Pending     []store.PendingSend
}

// RedisStore keeps one snapshot per tenant and user.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and checks it answers.
func NewRedisStore(redisURL, tenantID, userID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, tenantID, userID), nil
}

func NewRedisStoreWithClient(client *redis.Client, tenantID, userID string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: fmt.Sprintf("collab:%s:%s:", tenantID, userID),
		ttl:    defaultTTL,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// SaveUnread replaces the cached unread counters.
func (s *RedisStore) SaveUnread(ctx context.Context, counts map[string]int) error {
	key := s.key("unread")
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(counts) == 0 {
			return nil
		}
		values := make(map[string]any, len(counts))
		for spaceID, n := range counts {
			values[spaceID] = n
		}
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save unread counts: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadUnread(ctx context.Context) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, s.key("unread")).Result()
	if err != nil {
		return nil, fmt.Errorf("load unread counts: %w", err)
	}
	counts := make(map[string]int, len(raw))
	for spaceID, value := range raw {
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		counts[spaceID] = n
	}
	return counts, nil
}

// SavePending replaces the cached pending sends. An empty list clears them.
func (s *RedisStore) SavePending(ctx context.Context, pending []store.PendingSend) error {
	key := s.key("pending")
	if len(pending) == 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear pending sends: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending sends: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save pending sends: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadPending(ctx context.Context) ([]store.PendingSend, error) {
	data, err := s.client.Get(ctx, s.key("pending")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending sends: %w", err)
	}
	var pending []store.PendingSend
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("unmarshal pending sends: %w", err)
	}
	return pending, nil
}

func (s *RedisStore) SaveActiveSpace(ctx context.Context, spaceID string) error {
	key := s.key("active_space")
	var err error
	if spaceID == "" {
		err = s.client.Del(ctx, key).Err()
	} else {
		err = s.client.Set(ctx, key, spaceID, s.ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("save active space: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadActiveSpace(ctx context.Context) (string, error) {
	spaceID, err := s.client.Get(ctx, s.key("active_space")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load active space: %w", err)
	}
	return spaceID, nil
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if err := s.SaveUnread(ctx, snap.Unread); err != nil {
		return err
	}
	if err := s.SavePending(ctx, snap.Pending); err != nil {
		return err
	}
	return s.SaveActiveSpace(ctx, snap.ActiveSpace)
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	unread, err := s.LoadUnread(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	pending, err := s.LoadPending(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	active, err := s.LoadActiveSpace(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ActiveSpace: active, Unread: unread, Pending: pending}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
