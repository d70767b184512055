package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"vsoportal/internal/redis"
)

// Persisted keys, suffixed to the session id.
const (
	AuthenticatedKey = "isAuthenticated"
	LastActivityKey  = "lastActivityTimestamp"
)

// ErrNotFound is returned by a KV for a missing key.
var ErrNotFound = errors.New("session key not found")

// KV is the string key/value store the session flag and timestamp live in.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetAll(ctx context.Context, values map[string]string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

func authKey(id string) string     { return id + ":" + AuthenticatedKey }
func activityKey(id string) string { return id + ":" + LastActivityKey }

// record is the decoded pair of persisted values.
type record struct {
	authenticated bool
	lastActivity  time.Time
	hasTimestamp  bool
}

func loadRecord(ctx context.Context, kv KV, id string) (record, error) {
	var rec record
	flag, err := kv.Get(ctx, authKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, nil
		}
		return rec, err
	}
	rec.authenticated = flag == "true"
	raw, err := kv.Get(ctx, activityKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, nil
		}
		return rec, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// unreadable timestamps are treated like missing ones
		return rec, nil
	}
	rec.lastActivity = time.UnixMilli(ms)
	rec.hasTimestamp = true
	return rec, nil
}

func saveRecord(ctx context.Context, kv KV, id string, last time.Time, ttl time.Duration) error {
	return kv.SetAll(ctx, map[string]string{
		authKey(id):     "true",
		activityKey(id): strconv.FormatInt(last.UnixMilli(), 10),
	}, ttl)
}

func clearRecord(ctx context.Context, kv KV, id string) error {
	return kv.Del(ctx, authKey(id), activityKey(id))
}

// MemoryKV keeps session keys in process memory.
type MemoryKV struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memoryItem
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryKV builds an in-process store. Expiry is evaluated against clock.
func NewMemoryKV(clock Clock) *MemoryKV {
	if clock == nil {
		clock = SystemClock
	}
	return &MemoryKV{now: clock.Now, items: make(map[string]memoryItem)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", ErrNotFound
	}
	return item.value, nil
}

func (m *MemoryKV) SetAll(_ context.Context, values map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	for k, v := range values {
		m.items[k] = memoryItem{value: v, expiresAt: expires}
	}
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Len reports the number of stored keys, expired or not.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type redisKV struct {
	client *redis.Client
}

// NewRedisKV stores session keys in redis so they survive a restart.
func NewRedisKV(client *redis.Client) KV {
	return &redisKV{client: client}
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key)
	if errors.Is(err, redis.ErrCacheMiss) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *redisKV) SetAll(ctx context.Context, values map[string]string, ttl time.Duration) error {
	return r.client.SetAll(ctx, values, ttl)
}

func (r *redisKV) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...)
}
