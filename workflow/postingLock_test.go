package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerWaitsAndTimesOut(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Obtain(context.Background(), []string{"b", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, l.heldKeys())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Obtain(ctx, []string{"c", "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// "c" was taken and given back on the way out
	assert.Equal(t, []string{"a", "b"}, l.heldKeys())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := l.Obtain(context.Background(), []string{"a"})
		if err == nil {
			r()
		}
	}()
	select {
	case <-done:
		t.Fatal("second holder got the key while it was held")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-done
	assert.Empty(t, l.heldKeys())
}

func TestRedisLockerContention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedisLocker(redislock.New(client), time.Minute)
	second := NewRedisLocker(redislock.New(client), time.Minute)
	second.backoff = 10 * time.Millisecond
	second.retries = 1

	release, err := first.Obtain(context.Background(), []string{"bal:1", "bal:2"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("posting:bal:1"))
	assert.True(t, mr.Exists("posting:bal:2"))

	_, err = second.Obtain(context.Background(), []string{"bal:0", "bal:2"})
	assert.ErrorIs(t, err, redislock.ErrNotObtained)
	assert.False(t, mr.Exists("posting:bal:0"), "partially taken keys are released")

	release()
	assert.Empty(t, mr.Keys())

	again, err := second.Obtain(context.Background(), []string{"bal:2"})
	require.NoError(t, err)
	again()
}

func TestRedisLockerDefaultsTTL(t *testing.T) {
	l := NewRedisLocker(nil, 0)
	assert.Equal(t, 30*time.Second, l.ttl)
	assert.Equal(t, 200, l.retries)
}
