package broker

import (
	"time"
)

type options struct {
	maxPending     int
	requestTimeout time.Duration
	requeueOnLoss  bool
	now            func() time.Time
}

// Option configures a Router.
type Option func(*options)

func defaultOptions() *options {
	return &options{now: time.Now}
}

// WithMaxPending caps the backlog of requests waiting for a worker. Requests
// arriving at a full backlog are answered with the overload signal
// (transport.MagicOverloaded). 0, the default, means unbounded.
func WithMaxPending(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxPending = n
	}
}

// WithRequestTimeout gives every request forwarded to a worker a deadline. A
// worker missing it is dropped as failed and the request goes back to the
// head of the backlog. 0, the default, disables deadlines.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithRequeueOnLoss re-queues the request of a worker that disconnects while
// working on it. Without it, that request is lost and its client never
// receives a reply.
func WithRequeueOnLoss(requeue bool) Option {
	return func(o *options) {
		o.requeueOnLoss = requeue
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
