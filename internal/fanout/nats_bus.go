package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus carries fanout traffic over core NATS subjects.
type NATSBus struct {
	nc     *nats.Conn
	out    chan Message
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed atomic.Bool
}

// DialNATS connects with reconnects enabled.
func DialNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("NATS_URL required for nats fanout")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name("xiangqi-live"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

func NewNATSBus(nc *nats.Conn, logger *zap.Logger) *NATSBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{
		nc:     nc,
		out:    make(chan Message, busBuffer),
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}
}

func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nats.ErrConnectionClosed
	}
	if _, ok := b.subs[topic]; ok {
		return nil
	}
	sub, err := b.nc.Subscribe(topic, func(m *nats.Msg) {
		if b.closed.Load() {
			return
		}
		select {
		case b.out <- Message{Topic: m.Subject, Data: m.Data}:
		default:
			b.logger.Warn("fanout_bus_overflow", zap.String("topic", m.Subject))
		}
	})
	if err != nil {
		return err
	}
	b.subs[topic] = sub
	return nil
}

func (b *NATSBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	sub, ok := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (b *NATSBus) Messages() <-chan Message { return b.out }

// Close drops subscriptions. The connection itself belongs to the caller, and the
// message channel stays open so late callbacks never hit a closed channel.
func (b *NATSBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, sub := range b.subs {
		_ = sub.Unsubscribe()
		delete(b.subs, topic)
	}
	return nil
}
