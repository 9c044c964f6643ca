// Package client sends requests through the broker's frontend and waits for
// the replies, one exchange at a time.
package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport"
)

var (
	// ErrOverloaded is returned when the broker's backlog was full and it refused the request.
	ErrOverloaded = errors.New("broker overloaded; retry later")
	// ErrEmptyReply is returned when the worker answered with an empty payload,
	// which workers do for requests they could not handle.
	ErrEmptyReply = errors.New("empty reply")
	ErrTimeout    = errors.New("request timed out")
)

// Client is a requester on a request-role connection to the broker frontend.
// A Client must not be used by more than one goroutine at a time.
type Client struct {
	conn   transport.Conn
	params Params
	sent   uint64
	log    zerolog.Logger
}

// New creates a client on conn. params may be nil.
func New(conn transport.Conn, params *Params) *Client {
	p := NewParams()
	if params != nil {
		*p = *params
	}
	if p.name == "" {
		p.name = log.GetLogToken()
	}
	return &Client{
		conn:   conn,
		params: *p,
		log:    log.Component("client").With().Str("client", p.name).Logger(),
	}
}

// Request sends payload and waits for the reply payload.
//
// After a timeout the connection may be left waiting for the lost reply;
// request-role connections that are strict about alternation then refuse
// further requests, and the client should be recreated.
func (c *Client) Request(ctx context.Context, payload ...[]byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, transport.NewProtocolViolation("empty request payload", nil)
	}
	if c.params.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.params.timeout)
		defer cancel()
	}

	token := log.GetLogToken()
	if err := c.conn.Send(ctx, payload); err != nil {
		return nil, perrors.Wrap(err, "sending request")
	}
	seq := atomic.AddUint64(&c.sent, 1)
	if log.IsLoggingEnabled(log.LevelDebug) {
		c.log.Debug().Str("rq", token).Uint64("seq", seq).Msg("sent request")
	}

	reply, err := c.conn.Recv(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn().Str("rq", token).Dur("timeout", c.params.timeout).Msg("no reply in time")
			return nil, ErrTimeout
		}
		return nil, perrors.Wrap(err, "receiving reply")
	}

	switch {
	case transport.IsOverloaded(reply):
		c.log.Warn().Str("rq", token).Msg("broker refused request")
		return nil, ErrOverloaded
	case len(reply) == 0 || (len(reply) == 1 && len(reply[0]) == 0):
		return nil, ErrEmptyReply
	}
	return reply, nil
}

// Sent returns the number of requests sent so far.
func (c *Client) Sent() uint64 {
	return atomic.LoadUint64(&c.sent)
}

/*
Run sends payload n times, waiting for each reply before sending the next
one, and calls fn with every reply. It stops at the first error; a refused
request (ErrOverloaded) is reported to fn as a nil reply and does not stop
the run.
*/
func (c *Client) Run(ctx context.Context, n int, payload [][]byte, fn func(i int, reply [][]byte)) error {
	for i := 0; i < n; i++ {
		reply, err := c.Request(ctx, payload...)
		if errors.Is(err, ErrOverloaded) {
			reply, err = nil, nil
		}
		if err != nil {
			return perrors.Wrapf(err, "request %d", i)
		}
		if fn != nil {
			fn(i, reply)
		}
	}
	return nil
}

// Close says goodbye to the broker, so that it forgets this client and drops
// any of its requests still waiting for a worker, and closes the connection.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.conn.Send(ctx, [][]byte{transport.MagicGoodbye}); err != nil && !errors.Is(err, transport.ErrClosed) {
		c.log.Debug().Err(err).Msg("could not say goodbye")
	}
	return c.conn.Close()
}
