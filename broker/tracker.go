package broker

import (
	"fmt"
	"sort"
	"time"

	"github.com/dermesser/taskbroker/queue"
	"github.com/dermesser/taskbroker/transport"
)

// request is a client request on its way through the broker. frames is the
// backend message, already stamped with the client's address.
type request struct {
	client  transport.Addr
	frames  [][]byte
	token   string
	arrived time.Time
}

// assignment is a request that a worker is working on.
type assignment struct {
	req    *request
	worker transport.Addr
	sentAt time.Time
}

type workerState struct {
	busy *assignment
}

// workerTracker knows every worker the broker may send to. Idle workers sit in
// a FIFO, so the least recently idle worker is picked first. A worker is either
// idle or has exactly one assignment; workers the tracker does not know are in
// an unknown state and receive nothing.
type workerTracker struct {
	idle    *queue.Queue[transport.Addr]
	workers map[transport.Addr]*workerState
}

func newWorkerTracker() *workerTracker {
	return &workerTracker{
		idle:    queue.NewUnboundedQueue[transport.Addr](16),
		workers: make(map[transport.Addr]*workerState),
	}
}

// arrive registers a new worker as idle. Returns false if it was already known.
func (t *workerTracker) arrive(w transport.Addr) bool {
	if _, ok := t.workers[w]; ok {
		return false
	}
	t.workers[w] = &workerState{}
	t.idle.Push(w)
	return true
}

func (t *workerTracker) known(w transport.Addr) bool {
	_, ok := t.workers[w]
	return ok
}

func (t *workerTracker) isBusy(w transport.Addr) bool {
	st, ok := t.workers[w]
	return ok && st.busy != nil
}

// popIdle removes and returns the least recently idle worker.
func (t *workerTracker) popIdle() (transport.Addr, bool) {
	return t.idle.Pop()
}

// assign records that w, just popped from the idle set, now works on req.
func (t *workerTracker) assign(w transport.Addr, req *request, now time.Time) {
	t.workers[w].busy = &assignment{req: req, worker: w, sentAt: now}
}

// complete ends w's assignment and returns it. The worker is neither idle nor
// busy until markIdle is called.
func (t *workerTracker) complete(w transport.Addr) *assignment {
	st := t.workers[w]
	a := st.busy
	st.busy = nil
	return a
}

// markIdle puts a known worker at the tail of the idle set.
func (t *workerTracker) markIdle(w transport.Addr) {
	t.idle.Push(w)
}

// remove forgets w. Returns its assignment, if it had one.
func (t *workerTracker) remove(w transport.Addr) (*assignment, bool) {
	st, ok := t.workers[w]
	if !ok {
		return nil, false
	}
	delete(t.workers, w)
	if st.busy == nil {
		t.idle.RemoveFunc(func(a transport.Addr) bool { return a == w })
	}
	return st.busy, true
}

// overdue returns the assignments sent before cutoff, oldest request first.
func (t *workerTracker) overdue(cutoff time.Time) []*assignment {
	var out []*assignment
	for _, st := range t.workers {
		if st.busy != nil && st.busy.sentAt.Before(cutoff) {
			out = append(out, st.busy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].req.arrived.Before(out[j].req.arrived) })
	return out
}

func (t *workerTracker) idleCount() int {
	return t.idle.Len()
}

func (t *workerTracker) busyCount() int {
	n := 0
	for _, st := range t.workers {
		if st.busy != nil {
			n++
		}
	}
	return n
}

// check verifies that every worker is idle or busy, never both, and that the
// idle set holds no duplicates or strangers.
func (t *workerTracker) check() error {
	seen := make(map[transport.Addr]bool)
	for _, w := range t.idle.Items() {
		if seen[w] {
			return fmt.Errorf("worker %s is idle twice", w)
		}
		seen[w] = true
		st, ok := t.workers[w]
		if !ok {
			return fmt.Errorf("idle worker %s is unknown", w)
		}
		if st.busy != nil {
			return fmt.Errorf("worker %s is idle and busy", w)
		}
	}
	return nil
}
