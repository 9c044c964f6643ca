package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dermesser/taskbroker/transport"
)

func bytesOf(s ...string) [][]byte {
	out := make([][]byte, len(s))
	for i := range s {
		out[i] = []byte(s[i])
	}
	return out
}

func strs(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}

// startWorker runs a worker against an in-memory broker backend and returns
// the backend multiplexer. The worker's Connected event has been consumed.
func startWorker(t *testing.T, h Handler, opts ...Option) (context.Context, transport.Multiplexer, transport.Addr, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	hub := transport.NewHub()
	backend, err := hub.BindRouter("backend")
	require.NoError(t, err)
	conn, err := hub.Dial("backend", transport.RoleDealer)
	require.NoError(t, err)

	wctx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- New(conn, h, opts...).Run(wctx) }()

	ev, err := transport.Receive(ctx, backend)
	require.NoError(t, err)
	require.Equal(t, transport.Connected, ev.Kind)

	return ctx, backend, ev.Addr, func() {
		stop()
		require.NoError(t, <-done)
		backend.Close()
		cancel()
	}
}

func nextMessage(t *testing.T, ctx context.Context, m transport.Multiplexer) transport.Event {
	ev, err := transport.Receive(ctx, m)
	require.NoError(t, err)
	require.Equal(t, transport.Message, ev.Kind)
	return ev
}

func TestWorkerRepliesWithEnvelope(t *testing.T) {
	ctx, backend, w, stop := startWorker(t, Reply(bytesOf("World"), 0))
	defer stop()

	require.NoError(t, backend.Send(w, bytesOf("C1", "", "Hello")))
	ev := nextMessage(t, ctx, backend)
	require.Equal(t, []string{"C1", "", "World"}, strs(ev.Frames))

	require.NoError(t, backend.Send(w, bytesOf("C2", "hop", "", "Hello")))
	ev = nextMessage(t, ctx, backend)
	require.Equal(t, []string{"C2", "hop", "", "World"}, strs(ev.Frames))
}

func TestWorkerEcho(t *testing.T) {
	ctx, backend, w, stop := startWorker(t, Echo)
	defer stop()

	require.NoError(t, backend.Send(w, bytesOf("C1", "", "a", "b")))
	ev := nextMessage(t, ctx, backend)
	require.Equal(t, []string{"C1", "", "a", "b"}, strs(ev.Frames))
}

func TestWorkerAnswersBadRequestsEmpty(t *testing.T) {
	failing := func(ctx context.Context, req [][]byte) ([][]byte, error) {
		if bytes.Equal(req[0], []byte("fail")) {
			return nil, errors.New("boom")
		}
		return req, nil
	}
	ctx, backend, w, stop := startWorker(t, failing)
	defer stop()

	// no envelope: dropped without reply
	require.NoError(t, backend.Send(w, bytesOf("garbage")))
	// empty payload and handler error: empty reply
	require.NoError(t, backend.Send(w, bytesOf("C1", "")))
	require.NoError(t, backend.Send(w, bytesOf("C2", "", "fail")))
	require.NoError(t, backend.Send(w, bytesOf("C3", "", "ok")))

	require.Equal(t, []string{"C1", ""}, strs(nextMessage(t, ctx, backend).Frames))
	require.Equal(t, []string{"C2", ""}, strs(nextMessage(t, ctx, backend).Frames))
	require.Equal(t, []string{"C3", "", "ok"}, strs(nextMessage(t, ctx, backend).Frames))
}

func TestWorkerSaysGoodbye(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := transport.NewHub()
	backend, err := hub.BindRouter("backend")
	require.NoError(t, err)
	defer backend.Close()
	conn, err := hub.Dial("backend", transport.RoleDealer)
	require.NoError(t, err)

	wctx, stop := context.WithCancel(ctx)
	w := New(conn, Echo)
	done := make(chan error, 1)
	go func() { done <- w.Run(wctx) }()

	ev, _ := transport.Receive(ctx, backend)
	require.Equal(t, transport.Connected, ev.Kind)
	require.NoError(t, backend.Send(ev.Addr, bytesOf("C1", "", "x")))
	nextMessage(t, ctx, backend)

	stop()
	require.NoError(t, <-done)
	ev, err = transport.Receive(ctx, backend)
	require.NoError(t, err)
	require.Equal(t, transport.Disconnected, ev.Kind)
	require.Equal(t, uint64(1), w.Served())
}

func TestReplyHandlerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Reply(bytesOf("World"), time.Hour)(ctx, bytesOf("Hello"))
	require.ErrorIs(t, err, context.Canceled)

	start := time.Now()
	got, err := Reply(bytesOf("World"), 20*time.Millisecond)(context.Background(), bytesOf("Hello"))
	require.NoError(t, err)
	require.Equal(t, bytesOf("World"), got)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// recordingConn captures sends; Recv blocks until the context ends.
type recordingConn struct {
	mu   sync.Mutex
	sent [][][]byte
}

func (c *recordingConn) Send(ctx context.Context, frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frames)
	return nil
}

func (c *recordingConn) Recv(ctx context.Context) ([][]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) count(magic []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.sent {
		if len(f) == 1 && bytes.Equal(f[0], magic) {
			n++
		}
	}
	return n
}

func TestWorkerHeartbeats(t *testing.T) {
	conn := &recordingConn{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(conn, Echo, WithHeartbeat(5*time.Millisecond)).Run(ctx) }()

	require.Eventually(t, func() bool { return conn.count(transport.MagicHeartbeat) >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 1, conn.count(transport.MagicReady))
	require.Equal(t, 1, conn.count(transport.MagicGoodbye))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Equal(t, transport.MagicReady, conn.sent[0][0])
	require.Equal(t, transport.MagicGoodbye, conn.sent[len(conn.sent)-1][0])
}

func TestRunPool(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := transport.NewHub()
	backend, err := hub.BindRouter("backend")
	require.NoError(t, err)
	defer backend.Close()

	pctx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- RunPool(pctx, 3, func(i int) (transport.Conn, error) {
			return hub.Dial("backend", transport.RoleDealer)
		}, Echo, WithHeartbeat(0))
	}()

	seen := map[transport.Addr]bool{}
	for len(seen) < 3 {
		ev, err := transport.Receive(ctx, backend)
		require.NoError(t, err)
		require.Equal(t, transport.Connected, ev.Kind)
		seen[ev.Addr] = true
	}
	stop()
	require.NoError(t, <-done)
}

func TestRunPoolDialFailure(t *testing.T) {
	err := RunPool(context.Background(), 2, func(i int) (transport.Conn, error) {
		return nil, errors.New("no route")
	}, Echo)
	require.Error(t, err)
}
