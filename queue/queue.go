// Package queue implements an array-based FIFO, supposedly faster than a linked list implementation.
// Used for queuing both idle workers and pending requests.
package queue

// Queue is a ring buffer. A bounded queue refuses elements once full; an
// unbounded one doubles its backing array instead.
type Queue[T any] struct {
	// tracking the length separately in l, because calculating it from (front, back)
	// is difficult in some cases (especially rollover)
	front, back, l int
	queue          []T
	bounded        bool
}

// NewQueue returns a queue holding at most capacity elements.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{queue: make([]T, capacity), bounded: true}
}

// NewUnboundedQueue returns a queue that grows as needed, starting with room for hint elements.
func NewUnboundedQueue[T any](hint int) *Queue[T] {
	if hint < 1 {
		hint = 8
	}
	return &Queue[T]{queue: make([]T, hint)}
}

func (q *Queue[T]) Len() int {
	return q.l
}

// Cap returns the maximum number of elements, or -1 for an unbounded queue.
func (q *Queue[T]) Cap() int {
	if !q.bounded {
		return -1
	}
	return len(q.queue)
}

func (q *Queue[T]) full() bool {
	return q.l == len(q.queue)
}

func (q *Queue[T]) grow() {
	n := make([]T, 2*len(q.queue)+1)
	for i := 0; i < q.l; i++ {
		n[i] = q.queue[(q.front+i)%len(q.queue)]
	}
	q.queue = n
	q.front = 0
	q.back = q.l
}

// ensureRoom returns false if the queue is bounded and full.
func (q *Queue[T]) ensureRoom() bool {
	if !q.full() {
		return true
	}
	if q.bounded {
		return false
	}
	q.grow()
	return true
}

// Append to the back. Returns false if the queue is full.
func (q *Queue[T]) Push(e T) bool {
	if !q.ensureRoom() {
		return false
	}
	q.queue[q.back] = e
	q.back = (q.back + 1) % len(q.queue)
	q.l++
	return true
}

// Insert at the front, so that e is the next element popped. Returns false if the queue is full.
func (q *Queue[T]) PushFront(e T) bool {
	if !q.ensureRoom() {
		return false
	}
	q.front = (q.front - 1 + len(q.queue)) % len(q.queue)
	q.queue[q.front] = e
	q.l++
	return true
}

// Get from the front. ok is false if the queue is empty.
func (q *Queue[T]) Pop() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	var zero T
	e = q.queue[q.front]
	q.queue[q.front] = zero
	q.front = (q.front + 1) % len(q.queue)
	q.l--
	return e, true
}

// Returns the front element without removing it.
func (q *Queue[T]) Peek() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	return q.queue[q.front], true
}

// RemoveFunc deletes every element for which match returns true, keeping the
// order of the others. Returns the number of removed elements. O(n).
func (q *Queue[T]) RemoveFunc(match func(T) bool) int {
	kept := 0
	n := q.l
	var zero T
	for i := 0; i < n; i++ {
		e := q.queue[(q.front+i)%len(q.queue)]
		if match(e) {
			continue
		}
		q.queue[(q.front+kept)%len(q.queue)] = e
		kept++
	}
	for i := kept; i < n; i++ {
		q.queue[(q.front+i)%len(q.queue)] = zero
	}
	q.l = kept
	if len(q.queue) > 0 {
		q.back = (q.front + kept) % len(q.queue)
	}
	return n - kept
}

// Items returns the elements front to back in a new slice.
func (q *Queue[T]) Items() []T {
	out := make([]T, q.l)
	for i := range out {
		out[i] = q.queue[(q.front+i)%len(q.queue)]
	}
	return out
}
