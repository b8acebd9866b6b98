// Package chatcache keeps the newest chat messages of each room in a Redis sorted set
// scored by message id, in front of the durable chat store.
package chatcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/store"
)

const (
	DefaultLimit    = 1000
	DefaultPageSize = 50
)

// Cache is write-through on Append and read-through on Page.
//
// The cached set of a room is always a contiguous run of that room's newest messages:
// appends add at the top, trimming drops from the bottom, and a page read from the store
// is only copied in when it extends that run.
type Cache struct {
	rdb      *redis.Client
	store    store.ChatStore
	limit    int64
	pageSize int
	logger   *zap.Logger
}

type Option func(*Cache)

func WithLimit(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.limit = int64(n)
		}
	}
}

func WithPageSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(rdb *redis.Client, st store.ChatStore, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, store: st, limit: DefaultLimit, pageSize: DefaultPageSize, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func roomKey(room string) string { return "chat:room:" + strings.TrimSpace(room) }

// Append persists msg and then adds it to the room's cache, trimming to the newest limit.
// A cache failure is logged; the store is authoritative.
func (c *Cache) Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	saved, err := c.store.AppendChat(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append chat: %w", err)
	}
	if err := c.add(ctx, saved.Room, false, saved); err != nil {
		c.logger.Warn("chat_cache_append_error",
			zap.String("room", saved.Room),
			zap.Int64("message_id", saved.ID),
			zap.Error(err),
		)
	}
	return saved, nil
}

// Page returns up to size messages with id < beforeID (the newest when beforeID <= 0),
// oldest first. A short cache read falls back to the store.
func (c *Cache) Page(ctx context.Context, room string, beforeID int64, size int) ([]*domain.ChatMessage, error) {
	if size <= 0 {
		size = c.pageSize
	}
	cached, err := c.rangeBefore(ctx, room, beforeID, size)
	if err != nil {
		c.logger.Warn("chat_cache_read_error", zap.String("room", room), zap.Error(err))
		cached = nil
	}
	if len(cached) >= size {
		return lo.Reverse(cached), nil
	}

	fromStore, err := c.store.ChatPage(ctx, room, beforeID, size)
	if err != nil {
		return nil, fmt.Errorf("chat page: %w", err)
	}
	if len(fromStore) < len(cached) {
		return lo.Reverse(cached), nil
	}
	if len(fromStore) > 0 {
		c.backfill(ctx, room, beforeID, fromStore)
	}
	return lo.Reverse(fromStore), nil
}

// rangeBefore reads newest-first from the sorted set.
func (c *Cache) rangeBefore(ctx context.Context, room string, beforeID int64, size int) ([]*domain.ChatMessage, error) {
	maxScore := "+inf"
	if beforeID > 0 {
		maxScore = "(" + strconv.FormatInt(beforeID, 10)
	}
	raw, err := c.rdb.ZRevRangeByScore(ctx, roomKey(room), &redis.ZRangeBy{
		Max:   maxScore,
		Min:   "-inf",
		Count: int64(size),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m domain.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode cached chat: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// backfill copies a store page into the cache when it extends the cached run: either the
// newest page, or the page directly below the oldest cached message.
func (c *Cache) backfill(ctx context.Context, room string, beforeID int64, page []*domain.ChatMessage) {
	if beforeID > 0 {
		oldest, err := c.rdb.ZRangeWithScores(ctx, roomKey(room), 0, 0).Result()
		if err != nil {
			c.logger.Warn("chat_cache_backfill_error", zap.String("room", room), zap.Error(err))
			return
		}
		if len(oldest) == 0 || int64(oldest[0].Score) != beforeID {
			return
		}
	}
	if err := c.add(ctx, room, true, page...); err != nil {
		c.logger.Warn("chat_cache_backfill_error", zap.String("room", room), zap.Error(err))
	}
}

// add writes msgs and trims. With replace set, cached entries in the id span of msgs are
// dropped first so a re-read page never duplicates members.
func (c *Cache) add(ctx context.Context, room string, replace bool, msgs ...*domain.ChatMessage) error {
	members := make([]redis.Z, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(m.ID), Member: string(raw)})
	}
	if len(members) == 0 {
		return nil
	}
	key := roomKey(room)
	pipe := c.rdb.TxPipeline()
	if replace {
		minID, maxID := spanOf(msgs)
		pipe.ZRemRangeByScore(ctx, key, strconv.FormatInt(minID, 10), strconv.FormatInt(maxID, 10))
	}
	pipe.ZAdd(ctx, key, members...)
	pipe.ZRemRangeByRank(ctx, key, 0, -(c.limit + 1))
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func spanOf(msgs []*domain.ChatMessage) (int64, int64) {
	minID, maxID := msgs[0].ID, msgs[0].ID
	for _, m := range msgs[1:] {
		minID = min(minID, m.ID)
		maxID = max(maxID, m.ID)
	}
	return minID, maxID
}

// Len reports how many messages of room are cached.
func (c *Cache) Len(ctx context.Context, room string) (int64, error) {
	return c.rdb.ZCard(ctx, roomKey(room)).Result()
}
