package globalchat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/chatcache"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/fanout/fanouttest"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/store"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

type fixture struct {
	mr  *miniredis.Miniredis
	hub *fanout.Hub
	h   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	hub := fanout.NewHub(fanout.NewRedisBus(ctx, rdb))
	t.Cleanup(func() {
		cancel()
		_ = hub.Close()
	})
	cat, err := msgcat.New("")
	require.NoError(t, err)
	st := store.NewMemoryStore()
	h := NewHandler(rdb, chatcache.New(rdb, st), hub, cat, Config{Room: "global", ProfileTTL: 180 * time.Second})
	return &fixture{mr: mr, hub: hub, h: h}
}

func (f *fixture) peer(t *testing.T, u domain.User) (*domain.Peer, *fanouttest.Recorder) {
	t.Helper()
	rec := &fanouttest.Recorder{}
	id := "conn-" + u.Username
	require.NoError(t, f.hub.Register(context.Background(), id, rec))
	return &domain.Peer{ConnID: id, User: u}, rec
}

// online lists the presence set as stored in Redis.
func (f *fixture) online(t *testing.T) []string {
	t.Helper()
	if !f.mr.Exists(PresenceKey) {
		return nil
	}
	ids, err := f.mr.Members(PresenceKey)
	require.NoError(t, err)
	return ids
}

func TestJoinCachesProfileAndPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, rec := f.peer(t, domain.User{ID: 1, Username: "alice", Country: "KR", ProfilePicture: "a.png"})

	require.NoError(t, f.h.Join(ctx, alice))
	assert.True(t, alice.InChat)

	assert.Equal(t, "alice", f.mr.HGet("user_profile:1", "username"))
	assert.Equal(t, 180*time.Second, f.mr.TTL("user_profile:1"))
	assert.Equal(t, []string{"1"}, f.online(t))

	ev := rec.Last("chat.userprofile")
	require.NotNil(t, ev)
	profile := ev["message"].(map[string]any)
	assert.Equal(t, "alice", profile["username"])
	assert.Equal(t, "KR", profile["country"])
}

func TestMessageRequiresJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.peer(t, domain.User{ID: 1, Username: "alice"})

	err := f.h.Message(ctx, alice, gamedto.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestMessageBroadcastExcludesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, ra := f.peer(t, domain.User{ID: 1, Username: "alice"})
	bob, rb := f.peer(t, domain.User{ID: 2, Username: "bob"})
	require.NoError(t, f.h.Join(ctx, alice))
	require.NoError(t, f.h.Join(ctx, bob))
	ra.Reset()
	rb.Reset()

	err := f.h.Message(ctx, alice, gamedto.ChatRequest{Message: " "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, f.h.Message(ctx, alice, gamedto.ChatRequest{Message: "hello lobby"}))
	assert.Equal(t, 0, ra.Len())
	ev := rb.Last("chat.message")
	require.NotNil(t, ev)
	assert.EqualValues(t, 1, ev["user_id"])
	assert.Equal(t, "hello lobby", ev["message"])

	require.NoError(t, f.h.History(ctx, bob, gamedto.HistoryRequest{}))
	hist := rb.Last("chat.history")
	require.NotNil(t, hist)
	require.Len(t, hist["data"].([]any), 1)
}

func TestLeaveAndDisconnectDropPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, ra := f.peer(t, domain.User{ID: 1, Username: "alice"})
	bob, _ := f.peer(t, domain.User{ID: 2, Username: "bob"})
	require.NoError(t, f.h.Join(ctx, alice))
	require.NoError(t, f.h.Join(ctx, bob))

	require.NoError(t, f.h.Leave(ctx, alice))
	assert.False(t, alice.InChat)
	assert.Empty(t, f.hub.GroupsOf(alice.ConnID))
	ra.Reset()
	require.NoError(t, f.h.Message(ctx, bob, gamedto.ChatRequest{Message: "anyone?"}))
	assert.Equal(t, 0, ra.Len())

	f.h.Disconnect(ctx, bob)
	assert.Empty(t, f.online(t))

	require.NoError(t, f.h.Leave(ctx, alice), "leaving twice is a no-op")
}

func TestRejoinKeepsCachedProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.peer(t, domain.User{ID: 1, Username: "alice", Country: "KR"})
	require.NoError(t, f.h.Join(ctx, alice))
	f.mr.FastForward(100 * time.Second)

	alice.User.Country = "JP"
	require.NoError(t, f.h.Join(ctx, alice))
	assert.Equal(t, "KR", f.mr.HGet("user_profile:1", "country"))
	assert.Equal(t, 180*time.Second, f.mr.TTL("user_profile:1"))
}
