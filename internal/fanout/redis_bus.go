package fanout

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries fanout traffic over Redis pub/sub on a single PubSub connection.
type RedisBus struct {
	rdb *redis.Client
	ps  *redis.PubSub
	out chan Message

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewRedisBus(ctx context.Context, rdb *redis.Client) *RedisBus {
	b := &RedisBus{
		rdb: rdb,
		ps:  rdb.Subscribe(ctx),
		out: make(chan Message, busBuffer),

		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *RedisBus) pump() {
	defer close(b.stopped)
	defer close(b.out)
	in := b.ps.Channel(redis.WithChannelSize(busBuffer))
	for {
		select {
		case <-b.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case b.out <- Message{Topic: m.Channel, Data: []byte(m.Payload)}:
			case <-b.done:
				return
			}
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.rdb.Publish(ctx, topic, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) error {
	return b.ps.Subscribe(ctx, topic)
}

func (b *RedisBus) Unsubscribe(ctx context.Context, topic string) error {
	return b.ps.Unsubscribe(ctx, topic)
}

func (b *RedisBus) Messages() <-chan Message { return b.out }

// Close stops the pump even when nobody is reading Messages, and returns once it has exited.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.ps.Close()
	})
	<-b.stopped
	return err
}
