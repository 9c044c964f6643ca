// Package broker implements the load-balancing router between clients and a
// pool of workers.
//
// Clients talk to the frontend endpoint, workers to the backend endpoint. The
// router forwards every request to exactly one idle worker, or holds it in a
// backlog until a worker becomes idle, and routes each reply back to the
// client that sent the request. Frames on the backend look like
//
//	[client address, (client envelope...), "", payload...]
//
// and workers return the envelope unchanged in their reply.
package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/envelope"
	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport"
)

// Router moves requests from the frontend to workers on the backend and
// replies back. All of its state is owned by the goroutine calling Run.
type Router struct {
	frontend, backend transport.Multiplexer
	opts              *options

	tracker *workerTracker
	pending *pendingQueue

	counters Stats
	snapshot atomic.Pointer[Stats]

	log zerolog.Logger
}

func New(frontend, backend transport.Multiplexer, opts ...Option) *Router {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	r := &Router{
		frontend: frontend,
		backend:  backend,
		opts:     o,
		tracker:  newWorkerTracker(),
		pending:  newPendingQueue(o.maxPending),
		log:      log.Component("broker"),
	}
	r.publish()
	return r
}

/*
Run is the router loop. It returns nil when ctx is cancelled, or ErrClosed if
one of the multiplexers is closed underneath it.

Backend events are always drained first: a reply frees a worker, and
freeing workers must not wait behind a flood of new requests.
*/
func (r *Router) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.opts.requestTimeout > 0 {
		interval := r.opts.requestTimeout / 4
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.log.Info().Int("max_pending", r.opts.maxPending).
		Dur("request_timeout", r.opts.requestTimeout).
		Bool("requeue_on_loss", r.opts.requeueOnLoss).
		Msg("router started")

	for {
		select {
		case ev, ok := <-r.backend.Events():
			if !ok {
				return transport.ErrClosed
			}
			r.handleBackend(ev)
			r.publish()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("router stopped")
			return nil
		case ev, ok := <-r.backend.Events():
			if !ok {
				return transport.ErrClosed
			}
			r.handleBackend(ev)
		case ev, ok := <-r.frontend.Events():
			if !ok {
				return transport.ErrClosed
			}
			r.handleFrontend(ev)
		case <-tick:
			r.expire(r.opts.now())
		}
		r.publish()
	}
}

func (r *Router) handleFrontend(ev transport.Event) {
	switch ev.Kind {
	case transport.Connected:
		if log.IsLoggingEnabled(log.LevelDebug) {
			r.log.Debug().Stringer("client", ev.Addr).Msg("client connected")
		}
	case transport.Disconnected:
		if n := r.pending.dropClient(ev.Addr); n > 0 {
			add(&r.counters.Purged, keyPurged, n)
			r.log.Info().Stringer("client", ev.Addr).Int("requests", n).Msg("client left; dropped its pending requests")
		}
	case transport.Message:
		r.handleRequest(ev.Addr, ev.Frames)
	}
}

func (r *Router) handleRequest(client transport.Addr, frames [][]byte) {
	env, payload, err := envelope.Split(frames)
	if err != nil {
		r.violation(client, "request envelope", err)
		return
	}
	if len(payload) == 0 {
		r.violation(client, "empty request payload", nil)
		return
	}

	req := &request{
		client:  client,
		frames:  envelope.Join(envelope.Wrap(client.Bytes(), env), payload),
		token:   log.GetLogToken(),
		arrived: r.opts.now(),
	}

	if w, ok := r.tracker.popIdle(); ok {
		r.dispatch(w, req)
		return
	}

	if r.pending.push(req) {
		incr(&r.counters.Queued, keyQueued)
		if c := r.pending.capacity(); c > 0 && r.pending.len() > int(0.8*float64(c)) {
			log.Logf(log.LevelWarnings, "Queue is now at more than 80%% fullness. Consider adding workers: (qlen/cap) %d/%d",
				r.pending.len(), c)
		}
		if log.IsLoggingEnabled(log.LevelDebug) {
			r.log.Debug().Str("rq", req.token).Stringer("client", client).Int("pending", r.pending.len()).Msg("no idle worker; queued")
		}
		return
	}

	incr(&r.counters.Overloaded, keyOverloaded)
	r.log.Warn().Str("rq", req.token).Stringer("client", client).Msg("backlog full; refusing request")
	if err := r.frontend.Send(client, envelope.Join(env, [][]byte{transport.MagicOverloaded})); err != nil {
		r.transportError("overload reply", client, err)
	}
}

// dispatch sends req to w, which must have just been taken from the idle set.
// If the send fails, w is forgotten and req is lost.
func (r *Router) dispatch(w transport.Addr, req *request) {
	if err := r.backend.Send(w, req.frames); err != nil {
		r.transportError("forward request", w, err)
		r.tracker.remove(w)
		incr(&r.counters.Lost, keyLost)
		r.log.Warn().Str("rq", req.token).Stringer("client", req.client).Stringer("worker", w).Msg("request lost: worker unreachable")
		return
	}
	r.tracker.assign(w, req, r.opts.now())
	incr(&r.counters.Forwarded, keyForwarded)
	if log.IsLoggingEnabled(log.LevelDebug) {
		r.log.Debug().Str("rq", req.token).Stringer("client", req.client).Stringer("worker", w).Msg("forwarded")
	}
}

// drain hands pending requests to idle workers, oldest first.
func (r *Router) drain() {
	for r.pending.len() > 0 && r.tracker.idleCount() > 0 {
		w, _ := r.tracker.popIdle()
		req, _ := r.pending.pop()
		r.dispatch(w, req)
	}
}

func (r *Router) handleBackend(ev transport.Event) {
	switch ev.Kind {
	case transport.Connected:
		if r.tracker.arrive(ev.Addr) {
			r.log.Info().Stringer("worker", ev.Addr).Msg("worker ready")
			r.drain()
		}
	case transport.Disconnected:
		r.workerGone(ev.Addr)
	case transport.Message:
		r.handleReply(ev.Addr, ev.Frames)
	}
}

func (r *Router) workerGone(w transport.Addr) {
	a, known := r.tracker.remove(w)
	if !known {
		return
	}
	r.log.Info().Stringer("worker", w).Msg("worker disconnected")
	if a == nil {
		return
	}
	if r.opts.requeueOnLoss {
		r.requeue(a, "worker disconnected")
		r.drain()
		return
	}
	incr(&r.counters.Lost, keyLost)
	r.log.Warn().Str("rq", a.req.token).Stringer("client", a.req.client).Stringer("worker", w).
		Msg("request lost: worker disconnected while working on it")
}

func (r *Router) requeue(a *assignment, why string) {
	if !r.pending.requeue(a.req) {
		incr(&r.counters.Lost, keyLost)
		r.log.Warn().Str("rq", a.req.token).Str("reason", why).Msg("request lost: backlog full")
		return
	}
	incr(&r.counters.Requeued, keyRequeued)
	r.log.Warn().Str("rq", a.req.token).Stringer("client", a.req.client).Stringer("worker", a.worker).
		Str("reason", why).Msg("request re-queued")
}

func (r *Router) handleReply(w transport.Addr, frames [][]byte) {
	if !r.tracker.known(w) {
		// A worker that was given up on is talking again. Its request has
		// been re-queued already, so the reply is stale; the worker is fine.
		r.log.Warn().Stringer("worker", w).Msg("discarding reply from dropped worker; re-admitting it")
		r.tracker.arrive(w)
		r.drain()
		return
	}
	if !r.tracker.isBusy(w) {
		r.violation(w, "reply from idle worker", nil)
		return
	}

	a := r.tracker.complete(w)
	r.deliver(w, a, frames)
	r.tracker.markIdle(w)
	r.drain()
}

func (r *Router) deliver(w transport.Addr, a *assignment, frames [][]byte) {
	env, payload, err := envelope.Split(frames)
	var client []byte
	if err == nil {
		client, env, err = envelope.Unwrap(env)
	}
	if err != nil {
		r.violation(w, "reply envelope", err)
		incr(&r.counters.Lost, keyLost)
		return
	}

	c := transport.Addr(client)
	if c != a.req.client {
		r.log.Warn().Str("rq", a.req.token).Stringer("worker", w).Stringer("expected", a.req.client).
			Stringer("got", c).Msg("reply addressed to a different client")
	}
	if err := r.frontend.Send(c, envelope.Join(env, payload)); err != nil {
		// the client is assumed gone; no retry
		r.transportError("return reply", c, err)
		return
	}
	incr(&r.counters.Replied, keyReplied)
	r.measureLatency(a.req.arrived)
	if log.IsLoggingEnabled(log.LevelDebug) {
		r.log.Debug().Str("rq", a.req.token).Stringer("client", c).Stringer("worker", w).Msg("replied")
	}
}

// expire gives up on workers that hold a request for longer than the request timeout.
func (r *Router) expire(now time.Time) {
	if r.opts.requestTimeout <= 0 {
		return
	}
	overdue := r.tracker.overdue(now.Add(-r.opts.requestTimeout))
	// requeue puts each at the head, so go backwards to keep arrival order
	for i := len(overdue) - 1; i >= 0; i-- {
		a := overdue[i]
		r.tracker.remove(a.worker)
		r.requeue(a, "deadline exceeded")
	}
	if len(overdue) > 0 {
		r.drain()
	}
}

func (r *Router) violation(from transport.Addr, what string, err error) {
	incr(&r.counters.Violations, keyViolations)
	pv := transport.NewProtocolViolation(what, err)
	r.log.Warn().Stringer("peer", from).Err(pv).Msg("dropped message")
}

func (r *Router) transportError(op string, addr transport.Addr, err error) {
	te := &transport.TransportError{Op: op, Addr: addr, Err: err}
	r.log.Error().Err(te).Msg("send failed")
}
