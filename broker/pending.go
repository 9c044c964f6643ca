package broker

import (
	"github.com/dermesser/taskbroker/queue"
	"github.com/dermesser/taskbroker/transport"
)

// pendingQueue holds requests that found no idle worker, oldest first.
type pendingQueue struct {
	q *queue.Queue[*request]
}

// newPendingQueue returns an unbounded queue if max is 0.
func newPendingQueue(max int) *pendingQueue {
	if max > 0 {
		return &pendingQueue{q: queue.NewQueue[*request](max)}
	}
	return &pendingQueue{q: queue.NewUnboundedQueue[*request](64)}
}

// push appends req. Returns false if the queue is full.
func (p *pendingQueue) push(req *request) bool {
	return p.q.Push(req)
}

// requeue puts req at the head, ahead of requests that arrived later.
func (p *pendingQueue) requeue(req *request) bool {
	return p.q.PushFront(req)
}

func (p *pendingQueue) pop() (*request, bool) {
	return p.q.Pop()
}

func (p *pendingQueue) len() int {
	return p.q.Len()
}

// capacity is -1 for an unbounded queue.
func (p *pendingQueue) capacity() int {
	return p.q.Cap()
}

// dropClient removes all requests from client and returns how many there were.
func (p *pendingQueue) dropClient(client transport.Addr) int {
	return p.q.RemoveFunc(func(r *request) bool { return r.client == client })
}
