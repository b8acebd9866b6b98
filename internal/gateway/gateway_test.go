package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/park285/xiangqi-live/internal/chatcache"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/game"
	"github.com/park285/xiangqi-live/internal/globalchat"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/router"
	"github.com/park285/xiangqi-live/internal/store"
)

const testSecret = "test-secret"

type server struct {
	srv   *httptest.Server
	hub   *fanout.Hub
	gw    *Gateway
	coord *game.Coordinator
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.NewMemoryStore()
	st.SeedUser(domain.User{ID: 1, Username: "alice", Active: true})
	st.SeedUser(domain.User{ID: 2, Username: "bob", Active: true})
	st.SeedUser(domain.User{ID: 3, Username: "mallory", Active: false})

	ctx, cancel := context.WithCancel(context.Background())
	hub := fanout.NewHub(fanout.NewRedisBus(ctx, rdb))
	go func() { _ = hub.Run(ctx) }()

	cat, err := msgcat.New("")
	require.NoError(t, err)
	chat := chatcache.New(rdb, st)
	coord := game.NewCoordinator(st, chat, hub, cat, game.Config{})
	lobby := globalchat.NewHandler(rdb, chat, hub, cat, globalchat.Config{})
	rt := router.New(coord, lobby, hub, cat)
	gw := New(NewAuthenticator(testSecret, st), hub, rt, lobby, Options{PingInterval: time.Minute})

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
		cancel()
		_ = hub.Close()
	})
	return &server{srv: srv, hub: hub, gw: gw, coord: coord}
}

func (s *server) url(token string) string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/?token=" + token
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, resp, err := websocket.Dial(ctx, s.url(token(t, userID)), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, raw))
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, raw, err := ws.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev["type"] == typ {
			return ev
		}
	}
}

func TestHandshakeRejections(t *testing.T) {
	s := newServer(t)
	cases := map[string]string{
		"missing":  "",
		"garbage":  "not-a-jwt",
		"unknown":  token(t, 99),
		"inactive": token(t, 3),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, s.url(tok), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Zero(t, s.gw.Active())
}

func TestBearerHeaderAccepted(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token(t, 1))
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.srv.URL, "http")+"/", &websocket.DialOptions{HTTPHeader: h})
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send(t, ws, map[string]any{"type": "nope"})
	ev := next(t, ws, "error")
	assert.Equal(t, "Unsupported event: nope", ev["message"])
}

func TestJoinMoveOverSockets(t *testing.T) {
	s := newServer(t)
	_, err := s.coord.Create(context.Background(), "g1", 300)
	require.NoError(t, err)

	alice := s.dial(t, 1)
	bob := s.dial(t, 2)

	send(t, alice, map[string]any{"type": "game.join", "id": "g1"})
	send(t, alice, map[string]any{"type": "game.get", "id": "g1"})
	snap := next(t, alice, "game.get.success")
	data := snap["data"].(map[string]any)
	assert.Equal(t, "ongoing", data["status"])

	send(t, bob, map[string]any{"type": "game.join", "id": "g1"})
	next(t, alice, "game.start")
	roster := next(t, bob, "game.users.list")
	assert.Len(t, roster["data"], 2)

	send(t, alice, map[string]any{
		"type": "game.move", "fen": "next-fen", "player": "red", "move": "h2e2", "thinking_time": 4,
	})
	mv := next(t, bob, "game.move")
	assert.Equal(t, "h2e2", mv["move"])
	assert.EqualValues(t, 1, mv["user_id"])
	assert.EqualValues(t, 296, mv["red_time_remaining"])

	send(t, alice, map[string]any{
		"type": "game.move", "fen": "x", "player": "red", "move": "a1a2", "thinking_time": 1,
	})
	ev := next(t, alice, "error")
	assert.NotEmpty(t, ev["message"])
}

func TestDisconnectReleasesMembership(t *testing.T) {
	s := newServer(t)
	ws := s.dial(t, 1)

	var connID string
	require.Eventually(t, func() bool {
		s.gw.mu.Lock()
		defer s.gw.mu.Unlock()
		for id := range s.gw.conns {
			connID = id
		}
		return connID != ""
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{LobbyGroup}, s.hub.GroupsOf(connID))

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return len(s.hub.GroupsOf(connID)) == 0 && s.gw.Active() == 0
	}, 3*time.Second, 20*time.Millisecond)
}
