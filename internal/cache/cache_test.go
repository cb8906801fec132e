package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(size int, now *time.Time) *Cache {
	c := New(size)
	c.now = func() time.Time { return *now }
	return c
}

func TestGetSetDelete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCache(8, &now)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestEntriesExpireIndividually(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCache(8, &now)

	c.Set("short", "x", 10*time.Second)
	c.Set("long", "y", time.Minute)
	c.Set("forever", "z", 0)

	now = now.Add(10 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)

	now = now.Add(24 * time.Hour)
	_, ok = c.Get("long")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestSizeBound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCache(2, &now)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGetOrSetIsLazy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCache(8, &now)
	ctx := context.Background()

	var loads int
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"CAPSULE_001"}, nil
	}

	v, err := GetOrSet(ctx, c, LockedCapsulesKey, 50*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"CAPSULE_001"}, v)

	_, err = GetOrSet(ctx, c, LockedCapsulesKey, 50*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "loader must not run on a hit")

	now = now.Add(50 * time.Second)
	_, err = GetOrSet(ctx, c, LockedCapsulesKey, 50*time.Second, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestGetOrSetDoesNotCacheErrors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCache(8, &now)
	boom := errors.New("db down")

	_, err := GetOrSet(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestGetOrSetLoadsOncePerMiss(t *testing.T) {
	c := New(8)
	var loads atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := GetOrSet(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
				loads.Add(1)
				time.Sleep(5 * time.Millisecond)
				return 7, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())
}

func TestHeirKey(t *testing.T) {
	assert.Equal(t, "heir:ben@example.com", HeirKey("ben@example.com"))
}
