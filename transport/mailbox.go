package transport

import (
	"context"
	"sync"

	"github.com/dermesser/taskbroker/queue"
)

// mailbox is an unbounded inbox. put never blocks, get waits for a message.
type mailbox struct {
	mu     sync.Mutex
	q      *queue.Queue[[][]byte]
	signal chan struct{}
	done   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{
		q:      queue.NewUnboundedQueue[[][]byte](16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) put(frames [][]byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.q.Push(frames)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *mailbox) get(ctx context.Context) ([][]byte, error) {
	for {
		m.mu.Lock()
		frames, ok := m.q.Pop()
		more := m.q.Len() > 0
		closed := m.closed
		m.mu.Unlock()

		if ok {
			if more {
				// pass the wakeup on to a concurrent reader
				m.notify()
			}
			return frames, nil
		}
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-m.signal:
		case <-m.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}
