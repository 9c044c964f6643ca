package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pborman/uuid"

	"github.com/dermesser/taskbroker/envelope"
)

const memoryEventBuffer = 1024

// Hub is an in-process namespace of endpoints. It stands in for a network
// when the broker, workers and clients run in the same process.
type Hub struct {
	mu        sync.Mutex
	endpoints map[string]interface{}
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]interface{})}
}

func (h *Hub) register(endpoint string, l interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.endpoints[endpoint]; ok {
		return &TransportError{Op: "bind " + endpoint, Err: fmt.Errorf("address already in use")}
	}
	h.endpoints[endpoint] = l
	return nil
}

func (h *Hub) unregister(endpoint string, l interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints[endpoint] == l {
		delete(h.endpoints, endpoint)
	}
}

func (h *Hub) lookup(endpoint string) interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoints[endpoint]
}

// BindRouter listens on endpoint in the router role.
func (h *Hub) BindRouter(endpoint string) (*MemoryMux, error) {
	m := &MemoryMux{
		hub:      h,
		endpoint: endpoint,
		events:   make(chan Event, memoryEventBuffer),
		done:     make(chan struct{}),
		peers:    make(map[Addr]*MemoryConn),
	}
	if err := h.register(endpoint, m); err != nil {
		return nil, err
	}
	return m, nil
}

// BindPull listens on endpoint for any number of pushing peers.
func (h *Hub) BindPull(endpoint string) (*MemoryConn, error) {
	c := &MemoryConn{hub: h, endpoint: endpoint, role: RolePull, inbox: newMailbox(), bound: true}
	if err := h.register(endpoint, c); err != nil {
		return nil, err
	}
	return c, nil
}

// BindPush listens on endpoint and distributes sent messages round-robin
// over the pulling peers. Send waits while no peer is connected.
func (h *Hub) BindPush(endpoint string) (*MemoryConn, error) {
	c := &MemoryConn{hub: h, endpoint: endpoint, role: RolePush, dist: newDistributor(), bound: true}
	if err := h.register(endpoint, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Dial connects to a bound endpoint. Request and dealer roles connect to a
// router, push connects to a bound pull and pull to a bound push.
func (h *Hub) Dial(endpoint string, role Role) (*MemoryConn, error) {
	l := h.lookup(endpoint)
	if l == nil {
		return nil, &TransportError{Op: "connect " + endpoint, Err: fmt.Errorf("no such endpoint")}
	}
	c := &MemoryConn{hub: h, endpoint: endpoint, role: role}

	switch l := l.(type) {
	case *MemoryMux:
		if role != RoleRequest && role != RoleDealer {
			break
		}
		c.inbox = newMailbox()
		c.mux = l
		c.addr = Addr(uuid.NewRandom().String())
		if err := l.attach(c); err != nil {
			return nil, err
		}
		return c, nil
	case *MemoryConn:
		if role == RolePush && l.role == RolePull {
			c.target = l.inbox
			return c, nil
		}
		if role == RolePull && l.role == RolePush {
			c.inbox = newMailbox()
			c.dist = l.dist
			l.dist.add(c)
			return c, nil
		}
	}
	return nil, &TransportError{Op: "connect " + endpoint, Err: ErrWrongRole}
}

// MemoryMux is the in-memory Multiplexer.
type MemoryMux struct {
	hub      *Hub
	endpoint string
	events   chan Event
	done     chan struct{}

	// guards peers and closed; emitters hold the read lock while sending to events
	mu        sync.RWMutex
	peers     map[Addr]*MemoryConn
	closed    bool
	closeOnce sync.Once
}

func (m *MemoryMux) Events() <-chan Event {
	return m.events
}

func (m *MemoryMux) emit(ctx context.Context, ev Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryMux) attach(c *MemoryConn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.peers[c.addr] = c
	m.mu.Unlock()
	return m.emit(context.Background(), Event{Kind: Connected, Addr: c.addr})
}

// detach forgets c and reports it disconnected, if it was still attached.
func (m *MemoryMux) detach(c *MemoryConn) {
	m.mu.Lock()
	attached := m.peers[c.addr] == c
	if attached {
		delete(m.peers, c.addr)
	}
	m.mu.Unlock()
	if attached {
		m.emit(context.Background(), Event{Kind: Disconnected, Addr: c.addr})
	}
}

func (m *MemoryMux) deliver(ctx context.Context, c *MemoryConn, frames [][]byte) error {
	if IsGoodbye(frames) {
		m.detach(c)
		return nil
	}
	switch Control(frames) {
	case ControlReady, ControlHeartbeat:
		return nil
	}

	m.mu.RLock()
	attached := m.peers[c.addr] == c
	m.mu.RUnlock()
	if !attached {
		// A peer that said goodbye and talks again is a new connection.
		if err := m.attach(c); err != nil {
			return err
		}
	}
	return m.emit(ctx, Event{Kind: Message, Addr: c.addr, Frames: frames})
}

// Send never blocks; the peer's inbox is unbounded.
func (m *MemoryMux) Send(addr Addr, frames [][]byte) error {
	m.mu.RLock()
	p, ok := m.peers[addr]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return ErrUnknownAddress
	}
	if err := p.inbox.put(copyFrames(frames)); err != nil {
		return &TransportError{Op: "send", Addr: addr, Err: ErrUnknownAddress}
	}
	return nil
}

// Close stops the multiplexer. Connected peers see ErrClosed on their next Recv.
func (m *MemoryMux) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		m.closed = true
		peers := m.peers
		m.peers = map[Addr]*MemoryConn{}
		close(m.events)
		m.mu.Unlock()

		for _, p := range peers {
			p.inbox.close()
		}
		m.hub.unregister(m.endpoint, m)
	})
	return nil
}

// Peers returns the number of attached peers.
func (m *MemoryMux) Peers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// MemoryConn is the in-memory Conn.
type MemoryConn struct {
	hub      *Hub
	endpoint string
	role     Role
	bound    bool

	// router peers
	mux  *MemoryMux
	addr Addr

	inbox  *mailbox
	target *mailbox
	dist   *distributor

	mu       sync.Mutex
	awaiting bool
	closed   bool
}

// Addr returns the token the router knows this connection by.
func (c *MemoryConn) Addr() Addr {
	return c.addr
}

func (c *MemoryConn) Send(ctx context.Context, frames [][]byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.role == RoleRequest {
		if c.awaiting {
			c.mu.Unlock()
			return &TransportError{Op: "send", Err: fmt.Errorf("request socket is waiting for a reply")}
		}
		c.awaiting = true
		frames = envelope.Join(nil, frames)
	}
	c.mu.Unlock()

	switch c.role {
	case RoleRequest, RoleDealer:
		err := c.mux.deliver(ctx, c, copyFrames(frames))
		if err != nil && c.role == RoleRequest {
			c.mu.Lock()
			c.awaiting = false
			c.mu.Unlock()
		}
		return err
	case RolePush:
		if c.target != nil {
			return c.target.put(copyFrames(frames))
		}
		return c.dist.send(ctx, copyFrames(frames))
	}
	return ErrWrongRole
}

func (c *MemoryConn) Recv(ctx context.Context) ([][]byte, error) {
	switch c.role {
	case RolePush:
		return nil, ErrWrongRole
	case RoleRequest:
		c.mu.Lock()
		awaiting := c.awaiting
		c.mu.Unlock()
		if !awaiting {
			return nil, &TransportError{Op: "recv", Err: fmt.Errorf("request socket has no request outstanding")}
		}
		for {
			frames, err := c.inbox.get(ctx)
			if err != nil {
				return nil, err
			}
			_, payload, err := envelope.Split(frames)
			if err != nil {
				// dropped like a REQ socket drops malformed replies
				continue
			}
			c.mu.Lock()
			c.awaiting = false
			c.mu.Unlock()
			return payload, nil
		}
	}
	return c.inbox.get(ctx)
}

func (c *MemoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.inbox != nil {
		c.inbox.close()
	}
	switch {
	case c.mux != nil:
		c.mux.detach(c)
	case c.bound:
		if c.dist != nil {
			c.dist.close()
		}
		c.hub.unregister(c.endpoint, c)
	case c.dist != nil:
		c.dist.remove(c)
	}
	return nil
}

// distributor hands messages from a bound push connection to its pullers in turn.
type distributor struct {
	mu      sync.Mutex
	pullers []*MemoryConn
	next    int
	changed chan struct{}
	closed  bool
}

func newDistributor() *distributor {
	return &distributor{changed: make(chan struct{})}
}

func (d *distributor) add(c *MemoryConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		c.inbox.close()
		return
	}
	d.pullers = append(d.pullers, c)
	close(d.changed)
	d.changed = make(chan struct{})
}

func (d *distributor) remove(c *MemoryConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.pullers {
		if p == c {
			d.pullers = append(d.pullers[:i], d.pullers[i+1:]...)
			break
		}
	}
}

func (d *distributor) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, p := range d.pullers {
		p.inbox.close()
	}
	close(d.changed)
}

func (d *distributor) send(ctx context.Context, frames [][]byte) error {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return ErrClosed
		}
		if len(d.pullers) > 0 {
			p := d.pullers[d.next%len(d.pullers)]
			d.next++
			d.mu.Unlock()
			if p.inbox.put(frames) == nil {
				return nil
			}
			d.remove(p)
			continue
		}
		changed := d.changed
		d.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func copyFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	copy(out, frames)
	return out
}
