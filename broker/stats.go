package broker

import (
	"time"

	metrics "github.com/armon/go-metrics"
)

// Stats is a snapshot of the router's state and counters.
type Stats struct {
	IdleWorkers int
	BusyWorkers int
	Pending     int

	// requests sent to a worker, including re-sends
	Forwarded uint64
	// replies delivered to clients
	Replied uint64
	// requests that had to wait for a worker
	Queued uint64
	// requests refused because the backlog was full
	Overloaded uint64
	// requests that will never be answered
	Lost uint64
	// requests put back in the backlog after their worker failed
	Requeued uint64
	// pending requests dropped because their client went away
	Purged uint64
	// malformed or unexpected messages dropped
	Violations uint64
}

var (
	keyForwarded  = []string{"broker", "requests", "forwarded"}
	keyReplied    = []string{"broker", "requests", "replied"}
	keyQueued     = []string{"broker", "requests", "queued"}
	keyOverloaded = []string{"broker", "requests", "overloaded"}
	keyLost       = []string{"broker", "requests", "lost"}
	keyRequeued   = []string{"broker", "requests", "requeued"}
	keyPurged     = []string{"broker", "requests", "purged"}
	keyViolations = []string{"broker", "violations"}
	keyLatency    = []string{"broker", "requests", "latency"}
	keyIdle       = []string{"broker", "workers", "idle"}
	keyBusy       = []string{"broker", "workers", "busy"}
	keyPending    = []string{"broker", "queue", "pending"}
)

func incr(counter *uint64, key []string) {
	add(counter, key, 1)
}

func add(counter *uint64, key []string, n int) {
	*counter += uint64(n)
	metrics.IncrCounter(key, float32(n))
}

func (r *Router) measureLatency(start time.Time) {
	metrics.MeasureSince(keyLatency, start)
}

// publish makes the current state visible to Stats and the metrics sink.
func (r *Router) publish() {
	s := r.counters
	s.IdleWorkers = r.tracker.idleCount()
	s.BusyWorkers = r.tracker.busyCount()
	s.Pending = r.pending.len()
	r.snapshot.Store(&s)

	metrics.SetGauge(keyIdle, float32(s.IdleWorkers))
	metrics.SetGauge(keyBusy, float32(s.BusyWorkers))
	metrics.SetGauge(keyPending, float32(s.Pending))
}

// Stats returns the state as of the end of the router's last turn. It is safe
// to call from any goroutine.
func (r *Router) Stats() Stats {
	if s := r.snapshot.Load(); s != nil {
		return *s
	}
	return Stats{}
}
