package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermesser/taskbroker/envelope"
	"github.com/dermesser/taskbroker/transport"
)

// serve answers every request arriving on m with answer(payload).
func serve(ctx context.Context, m transport.Multiplexer, answer func([][]byte) [][]byte) {
	for {
		ev, err := transport.Receive(ctx, m)
		if err != nil {
			return
		}
		if ev.Kind != transport.Message {
			continue
		}
		env, payload, err := envelope.Split(ev.Frames)
		if err != nil {
			continue
		}
		reply := answer(payload)
		if reply == nil {
			continue
		}
		m.Send(ev.Addr, envelope.Join(env, reply))
	}
}

func setup(t *testing.T, answer func([][]byte) [][]byte, params *Params) (context.Context, *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	hub := transport.NewHub()
	frontend, err := hub.BindRouter("frontend")
	require.NoError(t, err)
	conn, err := hub.Dial("frontend", transport.RoleRequest)
	require.NoError(t, err)

	go serve(ctx, frontend, answer)
	t.Cleanup(func() {
		cancel()
		frontend.Close()
	})
	return ctx, New(conn, params)
}

func TestRequest(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte {
		return [][]byte{[]byte("World")}
	}, nil)

	reply, err := c.Request(ctx, []byte("Hello"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("World")}, reply)

	reply, err = c.Request(ctx, []byte("Hello"), []byte("again"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("World")}, reply)
	assert.Equal(t, uint64(2), c.Sent())
}

func TestRequestOverloadedAndEmpty(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte {
		switch string(p[0]) {
		case "busy":
			return [][]byte{transport.MagicOverloaded}
		default:
			return [][]byte{{}}
		}
	}, nil)

	_, err := c.Request(ctx, []byte("busy"))
	require.ErrorIs(t, err, ErrOverloaded)
	_, err = c.Request(ctx, []byte("bad"))
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestRequestRejectsEmptyPayload(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte { return p }, nil)
	_, err := c.Request(ctx)
	require.True(t, transport.IsProtocolViolation(err))
	assert.Equal(t, uint64(0), c.Sent())
}

func TestRequestTimeout(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte { return nil }, NewParams().Timeout(20*time.Millisecond).Name("slow"))

	start := time.Now()
	_, err := c.Request(ctx, []byte("Hello"))
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRun(t *testing.T) {
	n := 0
	ctx, c := setup(t, func(p [][]byte) [][]byte {
		n++
		if n == 3 {
			return [][]byte{transport.MagicOverloaded}
		}
		return [][]byte{[]byte("World")}
	}, nil)

	var got []int
	var nilReplies int
	err := c.Run(ctx, 10, [][]byte{[]byte("Hello")}, func(i int, reply [][]byte) {
		got = append(got, i)
		if reply == nil {
			nilReplies++
		}
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	require.Equal(t, 1, nilReplies)
}

func TestRunStopsOnError(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte { return [][]byte{{}} }, nil)
	calls := 0
	err := c.Run(ctx, 5, [][]byte{[]byte("Hello")}, func(int, [][]byte) { calls++ })
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEmptyReply))
	require.Equal(t, 0, calls)
}

func TestRequestAfterClose(t *testing.T) {
	ctx, c := setup(t, func(p [][]byte) [][]byte { return p }, nil)
	require.NoError(t, c.Close())
	_, err := c.Request(ctx, []byte("Hello"))
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestCloseSaysGoodbye(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub := transport.NewHub()
	frontend, err := hub.BindRouter("frontend")
	require.NoError(t, err)
	defer frontend.Close()
	conn, err := hub.Dial("frontend", transport.RoleRequest)
	require.NoError(t, err)

	c := New(conn, nil)
	ev, err := transport.Receive(ctx, frontend)
	require.NoError(t, err)
	require.Equal(t, transport.Connected, ev.Kind)

	require.NoError(t, c.Close())
	ev, err = transport.Receive(ctx, frontend)
	require.NoError(t, err)
	require.Equal(t, transport.Disconnected, ev.Kind)
	require.Equal(t, conn.Addr(), ev.Addr)
	require.Equal(t, 0, frontend.Peers())
}
