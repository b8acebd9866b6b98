package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/xiangqi-live/internal/fanout/fanouttest"
)

func runNATS(t *testing.T) string {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func natsHub(t *testing.T, url string) (*Hub, *nats.Conn) {
	t.Helper()
	nc, err := DialNATS(url, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(NewNATSBus(nc, nil))
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = h.Close()
		nc.Close()
	})
	return h, nc
}

func TestNATSCrossProcessDelivery(t *testing.T) {
	url := runNATS(t)
	h1, nc1 := natsHub(t, url)
	h2, nc2 := natsHub(t, url)
	ctx := context.Background()

	a, b, c := &fanouttest.Recorder{}, &fanouttest.Recorder{}, &fanouttest.Recorder{}
	require.NoError(t, h1.Register(ctx, "a", a))
	require.NoError(t, h2.Register(ctx, "b", b))
	require.NoError(t, h2.Register(ctx, "c", c))
	require.NoError(t, h1.Join(ctx, "game_1", "a"))
	require.NoError(t, h2.Join(ctx, "game_1", "b"))
	require.NoError(t, h2.Join(ctx, "game_1", "c"))
	require.NoError(t, nc1.Flush())
	require.NoError(t, nc2.Flush())

	require.NoError(t, h1.Send(ctx, ToGroup("game_1"), map[string]any{"type": "game.move"}, "c"))
	require.Eventually(t, func() bool { return b.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Len(), "local member delivered once, not again via the bus")
	assert.Equal(t, 0, c.Len())

	require.NoError(t, h1.Send(ctx, ToConn("c"), map[string]any{"type": "game.users.list"}, ""))
	require.Eventually(t, func() bool { return c.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"game.users.list"}, c.Types())
}

func TestNATSLeaveStopsRemoteDelivery(t *testing.T) {
	url := runNATS(t)
	h1, _ := natsHub(t, url)
	h2, nc2 := natsHub(t, url)
	ctx := context.Background()

	b := &fanouttest.Recorder{}
	require.NoError(t, h2.Register(ctx, "b", b))
	require.NoError(t, h2.Join(ctx, "room", "b"))
	require.NoError(t, nc2.Flush())
	require.NoError(t, h2.Leave(ctx, "room", "b"))
	require.NoError(t, nc2.Flush())

	require.NoError(t, h1.Send(ctx, ToGroup("room"), map[string]any{"type": "chat.message"}, ""))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, b.Len())
}
