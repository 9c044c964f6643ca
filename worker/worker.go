// Package worker implements the request-handling side of the broker: a worker
// connects to the broker's backend, announces itself, and then answers one
// request at a time.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/envelope"
	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport"
)

const DefaultHeartbeat = time.Second

type options struct {
	name      string
	heartbeat time.Duration
}

// Option configures a Worker.
type Option func(*options)

// WithName sets the name used in log lines.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithHeartbeat sets the interval between heartbeats; 0 disables them. The
// broker's peer TTL should be a few intervals long.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeat = d
	}
}

// Worker serves requests arriving on a dealer connection to the broker backend.
type Worker struct {
	conn    transport.Conn
	handler Handler
	opts    options
	served  uint64
	log     zerolog.Logger
}

func New(conn transport.Conn, handler Handler, opts ...Option) *Worker {
	o := options{name: log.GetLogToken(), heartbeat: DefaultHeartbeat}
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker{
		conn:    conn,
		handler: handler,
		opts:    o,
		log:     log.Component("worker").With().Str("worker", o.name).Logger(),
	}
}

// Served returns the number of requests answered so far.
func (w *Worker) Served() uint64 {
	return atomic.LoadUint64(&w.served)
}

/*
Run announces the worker and serves requests until ctx is cancelled or the
connection is closed. On the way out it says goodbye, so the broker stops
sending work here at once instead of waiting for the heartbeat to lapse.

Requests look like [client address, ..., "", payload...]; the reply is sent
back with the same envelope.
*/
func (w *Worker) Run(ctx context.Context) error {
	if err := w.conn.Send(ctx, [][]byte{transport.MagicReady}); err != nil {
		return err
	}
	w.log.Info().Msg("worker ready")

	var wg sync.WaitGroup
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	if w.opts.heartbeat > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.heartbeat(hbCtx)
		}()
	}
	defer func() {
		stopHeartbeat()
		wg.Wait()
		w.goodbye()
	}()

	for {
		frames, err := w.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			w.log.Warn().Err(err).Msg("skipped incoming message")
			continue
		}
		if err := w.serve(ctx, frames); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// serve handles one request. Only a failure to send the reply is returned.
func (w *Worker) serve(ctx context.Context, frames [][]byte) error {
	env, payload, err := envelope.Split(frames)
	if err != nil {
		// without an envelope there is nobody to answer
		w.log.Warn().Err(transport.NewProtocolViolation("request envelope", err)).Msg("dropped message")
		return nil
	}

	token := log.GetLogToken()
	if log.IsLoggingEnabled(log.LevelDebug) {
		w.log.Debug().Str("rq", token).Int("frames", len(payload)).Msg("received request")
	}

	var reply [][]byte
	if len(payload) == 0 {
		w.log.Warn().Str("rq", token).Err(transport.NewProtocolViolation("empty request payload", nil)).Msg("answering with empty reply")
	} else {
		reply, err = w.handler(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Str("rq", token).Err(err).Msg("handler failed; answering with empty reply")
			reply = nil
		}
	}

	if err := w.conn.Send(ctx, envelope.Join(env, reply)); err != nil {
		return err
	}
	atomic.AddUint64(&w.served, 1)
	return nil
}

func (w *Worker) heartbeat(ctx context.Context) {
	t := time.NewTicker(w.opts.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.conn.Send(ctx, [][]byte{transport.MagicHeartbeat}); err != nil && ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("could not send heartbeat")
			}
		}
	}
}

func (w *Worker) goodbye() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.conn.Send(ctx, [][]byte{transport.MagicGoodbye}); err != nil && !errors.Is(err, transport.ErrClosed) {
		w.log.Warn().Err(err).Msg("could not say goodbye")
	}
	w.log.Info().Uint64("served", w.Served()).Msg("worker stopped")
}
