// Package gateway accepts authenticated websocket connections and runs their lifecycle:
// registration with the hub, the sequential read loop, and teardown.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/obslog"
)

// LobbyGroup is joined by every accepted connection.
const LobbyGroup = "lobby_group"

type Registry interface {
	Register(ctx context.Context, connID string, d fanout.Deliverer) error
	Unregister(ctx context.Context, connID string)
	Join(ctx context.Context, group, connID string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, p *domain.Peer, raw []byte)
}

// Disconnecter releases per-user state that outlives group membership.
type Disconnecter interface {
	Disconnect(ctx context.Context, p *domain.Peer)
}

type Options struct {
	OriginPatterns []string
	PingInterval   time.Duration
}

type Gateway struct {
	auth   *Authenticator
	hub    Registry
	router Dispatcher
	chat   Disconnecter
	opts   Options

	mu    sync.Mutex
	conns map[string]*Conn
}

func New(auth *Authenticator, hub Registry, router Dispatcher, chat Disconnecter, opts Options) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Gateway{auth: auth, hub: hub, router: router, chat: chat, opts: opts, conns: make(map[string]*Conn)}
}

// ServeHTTP refuses the handshake unless the token names an active user.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := g.auth.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		obslog.L().Info("ws_auth_rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		status := http.StatusForbidden
		if !errors.Is(err, ErrMissingToken) && !errors.Is(err, ErrInvalidToken) &&
			!errors.Is(err, ErrUnknownUser) && !errors.Is(err, ErrInactiveUser) {
			status = http.StatusInternalServerError
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  g.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)
	g.serve(r.Context(), newConn(ws, user))
}

func (g *Gateway) serve(parent context.Context, c *Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := g.hub.Register(ctx, c.id, c); err != nil {
		obslog.L().Error("ws_register_error", zap.String("conn_id", c.id), zap.Error(err))
		c.close(websocket.StatusInternalError, "register failed")
		return
	}
	if err := g.hub.Join(ctx, LobbyGroup, c.id); err != nil {
		obslog.L().Warn("ws_lobby_join_error", zap.String("conn_id", c.id), zap.Error(err))
	}
	g.track(c)
	obslog.L().Info("ws_accept", zap.String("conn_id", c.id), zap.Int64("user_id", c.peer.User.ID))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pingLoop(ctx, g.opts.PingInterval)
	}()

	// handlers are not cancelled by a disconnect
	handlerCtx := context.WithoutCancel(ctx)
	err := c.readLoop(ctx, func(raw []byte) {
		g.router.Dispatch(handlerCtx, c.peer, raw)
	})

	cancel()
	wg.Wait()
	g.teardown(c, err)
}

func (g *Gateway) teardown(c *Conn, cause error) {
	g.untrack(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.hub.Unregister(ctx, c.id)
	if g.chat != nil {
		g.chat.Disconnect(ctx, c.peer)
	}
	c.close(websocket.StatusNormalClosure, "")

	status := websocket.CloseStatus(cause)
	obslog.L().Info("ws_disconnect",
		zap.String("conn_id", c.id),
		zap.Int64("user_id", c.peer.User.ID),
		zap.String("game_id", c.peer.SessionID),
		zap.Int("close_status", int(status)),
	)
}

func (g *Gateway) track(c *Conn) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

// Active reports the number of open connections on this process.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every open connection; their read loops then run teardown.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
