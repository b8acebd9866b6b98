package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/obslog"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pingTimeout  = 5 * time.Second
	readLimit    = 64 << 10
)

// Conn is one accepted websocket. Outbound payloads queue on send and are written by a
// single writer goroutine.
type Conn struct {
	id   string
	ws   *websocket.Conn
	peer *domain.Peer
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, user *domain.User) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:   id,
		ws:   ws,
		peer: &domain.Peer{ConnID: id, User: *user},
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Deliver queues payload without blocking; false when the buffer is full or the
// connection is closing.
func (c *Conn) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_error", zap.String("conn_id", c.id), zap.Error(err))
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				c.close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// readLoop hands each frame to handle and returns once the connection fails or closes.
// handle runs to completion before the next frame is read.
func (c *Conn) readLoop(ctx context.Context, handle func([]byte)) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		handle(data)
	}
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}
