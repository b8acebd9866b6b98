package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/xiangqi-live/internal/apperr"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/pkg/gamedto"
)

type sent struct {
	target  fanout.Target
	payload any
}

type fakeSender struct{ sent []sent }

func (s *fakeSender) Send(_ context.Context, target fanout.Target, payload any, _ string) error {
	s.sent = append(s.sent, sent{target: target, payload: payload})
	return nil
}

func (s *fakeSender) errors() []string {
	var out []string
	for _, m := range s.sent {
		if ev, ok := m.payload.(gamedto.ErrorEvent); ok {
			out = append(out, ev.Message)
		}
	}
	return out
}

type fakeGame struct {
	calls []string
	move  gamedto.MoveRequest
	err   error
	panic bool
}

func (g *fakeGame) Join(_ context.Context, _ *domain.Peer, req gamedto.JoinRequest) error {
	g.calls = append(g.calls, "join:"+req.ID)
	return g.err
}
func (g *fakeGame) Move(_ context.Context, _ *domain.Peer, req gamedto.MoveRequest) error {
	if g.panic {
		panic("boom")
	}
	g.calls = append(g.calls, "move")
	g.move = req
	return g.err
}
func (g *fakeGame) Chat(_ context.Context, _ *domain.Peer, req gamedto.ChatRequest) error {
	g.calls = append(g.calls, "chat:"+req.Message)
	return g.err
}
func (g *fakeGame) End(_ context.Context, _ *domain.Peer, req gamedto.EndRequest) error {
	g.calls = append(g.calls, "end:"+req.LosingPlayer)
	return g.err
}
func (g *fakeGame) Get(_ context.Context, _ *domain.Peer, req gamedto.GetRequest) error {
	g.calls = append(g.calls, "get:"+req.ID)
	return g.err
}
func (g *fakeGame) ChatHistory(_ context.Context, _ *domain.Peer, _ gamedto.HistoryRequest) error {
	g.calls = append(g.calls, "game-history")
	return g.err
}

type fakeChat struct{ calls []string }

func (c *fakeChat) Join(context.Context, *domain.Peer) error {
	c.calls = append(c.calls, "join")
	return nil
}
func (c *fakeChat) Message(_ context.Context, _ *domain.Peer, req gamedto.ChatRequest) error {
	c.calls = append(c.calls, "message:"+req.Message)
	return nil
}
func (c *fakeChat) Leave(context.Context, *domain.Peer) error {
	c.calls = append(c.calls, "leave")
	return nil
}
func (c *fakeChat) History(_ context.Context, _ *domain.Peer, req gamedto.HistoryRequest) error {
	c.calls = append(c.calls, "history")
	return nil
}

func newRouter(t *testing.T) (*Router, *fakeGame, *fakeChat, *fakeSender) {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	g, c, s := &fakeGame{}, &fakeChat{}, &fakeSender{}
	return New(g, c, s, cat), g, c, s
}

var peer = &domain.Peer{ConnID: "c1", User: domain.User{ID: 1, Username: "alice"}}

func TestDispatchRoutesEveryInboundType(t *testing.T) {
	r, g, c, s := newRouter(t)
	ctx := context.Background()
	frames := []string{
		`{"type":"game.join","id":"g1"}`,
		`{"type":"game.move","fen":"f","player":"alice","move":"m","thinking_time":4}`,
		`{"type":"game.chat","message":"hi"}`,
		`{"type":"game.end","losing_player":"bob"}`,
		`{"type":"game.get","id":"g1"}`,
		`{"type":"game.chat.history","before_id":10}`,
		`{"type":"chat.join"}`,
		`{"type":"chat.message","message":"yo"}`,
		`{"type":"chat.history"}`,
		`{"type":"chat.leave"}`,
	}
	for _, f := range frames {
		r.Dispatch(ctx, peer, []byte(f))
	}
	assert.Equal(t, []string{"join:g1", "move", "chat:hi", "end:bob", "get:g1", "game-history"}, g.calls)
	assert.Equal(t, []string{"join", "message:yo", "history", "leave"}, c.calls)
	require.NotNil(t, g.move.ThinkingTime)
	assert.Equal(t, 4, *g.move.ThinkingTime)
	assert.Empty(t, s.sent)
	assert.Len(t, gamedto.Inbound, len(frames))
}

func TestUnknownTypeIsRejected(t *testing.T) {
	r, g, _, s := newRouter(t)
	r.Dispatch(context.Background(), peer, []byte(`{"type":"game.resign"}`))

	assert.Empty(t, g.calls)
	assert.Equal(t, []string{"Unsupported event: game.resign"}, s.errors())
	assert.Equal(t, fanout.ToConn("c1"), s.sent[0].target)
}

func TestMalformedFrames(t *testing.T) {
	r, g, _, s := newRouter(t)
	ctx := context.Background()
	r.Dispatch(ctx, peer, []byte(`not json`))
	r.Dispatch(ctx, peer, []byte(`{"type":"game.move","thinking_time":"soon"}`))
	r.Dispatch(ctx, peer, []byte(`{"type":"game.join","id":7}`))

	assert.Empty(t, g.calls)
	assert.Equal(t, []string{"Malformed event.", "Invalid move data received.", "Invalid data for game.join."}, s.errors())
}

func TestErrorBoundary(t *testing.T) {
	r, g, _, s := newRouter(t)
	ctx := context.Background()

	g.err = apperr.NotFound("Game ID g9 not found.")
	r.Dispatch(ctx, peer, []byte(`{"type":"game.join","id":"g9"}`))

	g.err = errors.New("pq: relation does not exist")
	r.Dispatch(ctx, peer, []byte(`{"type":"game.get","id":"g1"}`))

	g.err = nil
	g.panic = true
	r.Dispatch(ctx, peer, []byte(`{"type":"game.move","fen":"f","player":"p","move":"m","thinking_time":1}`))

	assert.Equal(t, []string{
		"Game ID g9 not found.",
		"An unexpected error occurred.",
		"An unexpected error occurred.",
	}, s.errors())
	for _, m := range s.sent {
		assert.Equal(t, fanout.ToConn("c1"), m.target)
	}
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`{"type":" game.get ","id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, gamedto.GameGet, f.Type)

	_, err = Parse([]byte(`[`))
	assert.ErrorIs(t, err, errMalformed)
}
