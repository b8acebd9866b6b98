package fanout

import "context"

// Message is one payload received from the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Bus is the process-external pub/sub layer. Subscriptions are per process; a Hub keeps
// one subscription per topic no matter how many local connections need it.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Messages() <-chan Message
	Close() error
}

const busBuffer = 256
