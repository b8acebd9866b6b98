package chatcache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/store"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, store.Memory, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewMemoryStore()
	return New(rdb, st, opts...), st, mr
}

func appendN(t *testing.T, c *Cache, room string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := c.Append(context.Background(), &domain.ChatMessage{Room: room, SenderID: 1, Sender: "alice", Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
}

func msgIDs(list []*domain.ChatMessage) []int64 {
	out := make([]int64, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func span(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestAppendTrimsToLimit(t *testing.T) {
	c, _, _ := newTestCache(t, WithLimit(1000))
	ctx := context.Background()
	appendN(t, c, "r", 1005)

	n, err := c.Len(ctx, "r")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)

	page, err := c.Page(ctx, "r", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, span(956, 1005), msgIDs(page))
}

func TestPageFallsBackBelowEvictedRange(t *testing.T) {
	c, _, _ := newTestCache(t, WithLimit(1000))
	ctx := context.Background()
	appendN(t, c, "r", 1005)

	page, err := c.Page(ctx, "r", 6, 50)
	require.NoError(t, err)
	assert.Equal(t, span(1, 5), msgIDs(page))

	again, err := c.Page(ctx, "r", 6, 50)
	require.NoError(t, err)
	assert.Equal(t, msgIDs(page), msgIDs(again))
}

func TestPageStraddlingEvictionBoundary(t *testing.T) {
	c, _, _ := newTestCache(t, WithLimit(10))
	ctx := context.Background()
	appendN(t, c, "r", 30)

	// cache holds 21..30; a page ending at 24 needs 15..20 from the store
	page, err := c.Page(ctx, "r", 25, 10)
	require.NoError(t, err)
	assert.Equal(t, span(15, 24), msgIDs(page))
}

func TestPagesAreStableAndOrdered(t *testing.T) {
	c, _, _ := newTestCache(t, WithLimit(100))
	ctx := context.Background()
	appendN(t, c, "r", 40)

	var all []int64
	before := int64(0)
	for {
		page, err := c.Page(ctx, "r", before, 7)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		ids := msgIDs(page)
		for i := 1; i < len(ids); i++ {
			require.Less(t, ids[i-1], ids[i], "page must be oldest first")
		}
		all = append(ids, all...)
		before = ids[0]
	}
	assert.Equal(t, span(1, 40), all)
}

func TestBackfillOnlyExtendsNewestRun(t *testing.T) {
	c, _, mr := newTestCache(t, WithLimit(100))
	ctx := context.Background()
	appendN(t, c, "r", 30)
	mr.Del(roomKey("r"))
	appendN(t, c, "r", 5) // cache now 31..35

	page, err := c.Page(ctx, "r", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, span(26, 35), msgIDs(page))
	n, _ := c.Len(ctx, "r")
	assert.EqualValues(t, 10, n, "newest page backfilled without duplicates")

	// not adjacent to the cached run: served from the store, not cached
	page, err = c.Page(ctx, "r", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, span(5, 9), msgIDs(page))
	n, _ = c.Len(ctx, "r")
	assert.EqualValues(t, 10, n)

	// adjacent: extends the run downwards
	page, err = c.Page(ctx, "r", 26, 5)
	require.NoError(t, err)
	assert.Equal(t, span(21, 25), msgIDs(page))
	n, _ = c.Len(ctx, "r")
	assert.EqualValues(t, 15, n)

	page, err = c.Page(ctx, "r", 30, 8)
	require.NoError(t, err)
	assert.Equal(t, span(22, 29), msgIDs(page))
}

func TestRoomsAreIsolated(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	appendN(t, c, "a", 3)
	appendN(t, c, "b", 2)

	page, err := c.Page(ctx, "b", 0, 50)
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, m := range page {
		assert.Equal(t, "b", m.Room)
	}
}

type failingStore struct{ store.ChatStore }

func (failingStore) AppendChat(context.Context, *domain.ChatMessage) (*domain.ChatMessage, error) {
	return nil, errors.New("db down")
}

func TestAppendStoreFailureSkipsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := New(rdb, failingStore{})

	_, err := c.Append(context.Background(), &domain.ChatMessage{Room: "r", Content: "x"})
	require.Error(t, err)
	n, _ := c.Len(context.Background(), "r")
	assert.Zero(t, n)
}
