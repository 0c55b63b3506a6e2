package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// Locker serializes postings that touch the same balance keys. Keys are always
// taken in sorted order so two postings can never wait on each other.
type Locker interface {
	Obtain(ctx context.Context, keys []string) (release func(), err error)
}

// RedisLocker holds the keys across every API instance.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, backoff: 50 * time.Millisecond, retries: 200}
}

func (l *RedisLocker) Obtain(ctx context.Context, keys []string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		// the caller's context may already be cancelled; releasing must still happen
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(rctx)
		}
	}
	for _, key := range keys {
		lock, err := l.client.Obtain(ctx, "posting:"+key, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
		})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("could not acquire posting lock %s: %w", key, err)
			}
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}

// LocalLocker is a keyed mutex for a single process (development and tests
// without Redis).
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Obtain(ctx context.Context, keys []string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, lk)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		return
	}
	<-lk.ch
	l.unref(key, lk)
}

func (l *LocalLocker) unref(key string, lk *localLock) {
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// heldKeys is used by tests to check nothing leaks.
func (l *LocalLocker) heldKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.locks))
	for k := range l.locks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
