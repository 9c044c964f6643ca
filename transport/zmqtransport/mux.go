package zmqtransport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport"
)

// Mux is a transport.Multiplexer on a bound ROUTER socket.
//
// ROUTER sockets do not report peers coming and going, so connection
// lifecycle is inferred: a peer is connected once its first message arrives,
// and disconnected when it sends GOODBYE (bare, or behind a request
// envelope), when it has been silent for longer
// than the peer TTL, or when zmq refuses to route to it.
type Mux struct {
	endpoint string
	sock     *socket
	events   chan transport.Event
	ttl      time.Duration
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	peers map[transport.Addr]time.Time
}

// BindRouter creates a ROUTER socket bound to endpoint.
// Routing is mandatory: messages to unknown identities fail instead of being dropped silently.
func BindRouter(endpoint string, opts ...Option) (*Mux, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	zsock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, errors.Wrap(err, "creating router socket")
	}
	if err := o.apply(zsock, false); err != nil {
		zsock.Close()
		return nil, errors.Wrap(err, "configuring router socket")
	}
	if err := zsock.SetRouterMandatory(1); err != nil {
		zsock.Close()
		return nil, errors.Wrap(err, "configuring router socket")
	}
	if err := zsock.Bind(endpoint); err != nil {
		zsock.Close()
		return nil, &transport.TransportError{Op: "bind " + endpoint, Err: err}
	}

	s, err := newSocket(zsock)
	if err != nil {
		zsock.Close()
		return nil, errors.Wrap(err, "starting router socket loop")
	}

	m := &Mux{
		endpoint: endpoint,
		sock:     s,
		events:   make(chan transport.Event, chanCap),
		ttl:      o.peerTTL,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		peers:    make(map[transport.Addr]time.Time),
	}
	go m.pump()
	return m, nil
}

func (m *Mux) Events() <-chan transport.Event {
	return m.events
}

func (m *Mux) emit(ev transport.Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.stop:
		return false
	}
}

// forget removes addr and reports whether it was known.
func (m *Mux) forget(addr transport.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[addr]
	delete(m.peers, addr)
	return ok
}

// seen refreshes addr and reports whether it is new.
func (m *Mux) seen(addr transport.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[addr]
	m.peers[addr] = time.Now()
	return !ok
}

func (m *Mux) expired(now time.Time) []transport.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transport.Addr
	for addr, last := range m.peers {
		if now.Sub(last) > m.ttl {
			out = append(out, addr)
			delete(m.peers, addr)
		}
	}
	return out
}

// pump turns raw socket traffic into events. It is the only goroutine that
// writes to the events channel.
func (m *Mux) pump() {
	defer close(m.stopped)
	defer close(m.events)

	var tick <-chan time.Time
	if m.ttl > 0 {
		ticker := time.NewTicker(m.ttl / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.stop:
			return
		case msg, ok := <-m.sock.recv:
			if !ok {
				return
			}
			if !m.handleIncoming(msg) {
				return
			}
		case f := <-m.sock.failed:
			if len(f.frames) == 0 {
				continue
			}
			addr := transport.Addr(f.frames[0])
			if zmq.AsErrno(f.err) == zmq.EHOSTUNREACH {
				log.Logf(log.LevelWarnings, "Could not route message to %s on %s", addr, m.endpoint)
			} else {
				log.Logf(log.LevelErrors, "Error when sending to %s on %s: %s", addr, m.endpoint, f.err)
			}
			if m.forget(addr) && !m.emit(transport.Event{Kind: transport.Disconnected, Addr: addr}) {
				return
			}
		case now := <-tick:
			for _, addr := range m.expired(now) {
				log.Logf(log.LevelInfo, "Peer %s on %s expired", addr, m.endpoint)
				if !m.emit(transport.Event{Kind: transport.Disconnected, Addr: addr}) {
					return
				}
			}
		}
	}
}

// handleIncoming returns false if the mux is stopping.
func (m *Mux) handleIncoming(msg [][]byte) bool {
	if len(msg) < 2 {
		log.Log(log.LevelWarnings, "Dropped message without content on ", m.endpoint)
		return true
	}
	addr := transport.Addr(msg[0])
	frames := msg[1:]

	if transport.IsGoodbye(frames) {
		if m.forget(addr) {
			return m.emit(transport.Event{Kind: transport.Disconnected, Addr: addr})
		}
		return true
	}

	if m.seen(addr) {
		if !m.emit(transport.Event{Kind: transport.Connected, Addr: addr}) {
			return false
		}
	}

	switch transport.Control(frames) {
	case transport.ControlReady, transport.ControlHeartbeat:
		return true
	}
	return m.emit(transport.Event{Kind: transport.Message, Addr: addr, Frames: frames})
}

// Send queues frames for addr. It fails with ErrUnknownAddress for peers the
// mux does not know, and with a TransportError if the send queue is full.
func (m *Mux) Send(addr transport.Addr, frames [][]byte) error {
	m.mu.Lock()
	_, ok := m.peers[addr]
	m.mu.Unlock()
	if !ok {
		return transport.ErrUnknownAddress
	}
	if m.sock.closed() {
		return transport.ErrClosed
	}

	msg := make([][]byte, 0, len(frames)+1)
	msg = append(msg, addr.Bytes())
	msg = append(msg, frames...)

	select {
	case m.sock.send <- msg:
		return nil
	default:
		return &transport.TransportError{Op: "send", Addr: addr, Err: errors.New("send queue full")}
	}
}

// Peers returns the number of known peers.
func (m *Mux) Peers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (m *Mux) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.stopped
		m.sock.close()
	})
	return nil
}
