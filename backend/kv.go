package main

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// kvStore is the small key/value surface the login limiter and the OTP
// service need. Redis backs it in production.
type kvStore interface {
	// Incr adds one to key and returns the new value. ttl is applied when the
	// key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
}

type redisKV struct {
	client *redis.Client

	warnedUnavailable atomic.Bool
}

// newRedisKV connects to url. It returns an error when Redis cannot be
// reached so the caller can fall back to the in-process store.
func newRedisKV(ctx context.Context, url string) (*redisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisKV{client: client}, nil
}

func (r *redisKV) warnOnce(err error) {
	if r.warnedUnavailable.CompareAndSwap(false, true) {
		log.Printf("[Cache] Redis error, requests depending on it will fail: %v", err)
	}
}

// Incr runs INCR and EXPIRE NX in one MULTI/EXEC, so a counter never
// outlives its window. A key left without a TTL gets one on the next call.
func (r *redisKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if ttl > 0 {
			pipe.ExpireNX(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		r.warnOnce(err)
		return 0, err
	}
	return incr.Val(), nil
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.warnOnce(err)
		return err
	}
	return nil
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		r.warnOnce(err)
		return "", false, err
	}
	return v, true, nil
}

func (r *redisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.warnOnce(err)
		return err
	}
	return nil
}

func (r *redisKV) Close() error {
	return r.client.Close()
}

// memoryKV is the in-process fallback used when Redis is not configured or
// not reachable. Entries live only as long as the process.
type memoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time
}

func newMemoryKV() *memoryKV {
	return &memoryKV{items: make(map[string]memoryItem), now: time.Now}
}

// get must be called with mu held.
func (m *memoryKV) get(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return it, false
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return it, false
	}
	return it, true
}

func (m *memoryKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *memoryKV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.get(key)
	var n int64
	if ok {
		var err error
		if n, err = strconv.ParseInt(it.value, 10, 64); err != nil {
			return 0, err
		}
	}
	if it.expires.IsZero() {
		it.expires = m.expiry(ttl)
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	m.items[key] = it
	return n, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, expires: m.expiry(ttl)}
	return nil
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.get(key)
	return it.value, ok, nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}
