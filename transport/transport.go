// Package transport defines how the broker and its peers exchange multi-part
// messages, independent of the socket library underneath.
//
// A Multiplexer is the listening side of a routing endpoint: it tracks the
// connected peers, tags every inbound message with the sender's address and
// can send to one peer by address. A Conn is the other side: one outbound
// connection in a fixed role (request, dealer, push or pull).
//
// This package also carries an in-memory implementation (see Hub) that is
// used by tests and by the single-process demo. The ZeroMQ implementation
// lives in transport/zmqtransport.
package transport

import (
	"context"
	"strings"
)

// Addr is the opaque, connection-scoped address token a multiplexer assigns to a peer.
type Addr string

// Bytes returns the token as a frame, for stamping it into an envelope.
func (a Addr) Bytes() []byte {
	return []byte(a)
}

func printable(r rune) rune {
	if r >= 32 && r < 127 {
		return r
	}
	return '.'
}

// String is safe for log output; binary identities are masked.
func (a Addr) String() string {
	return strings.Map(printable, string(a))
}

type EventKind int

const (
	// A peer was observed for the first time.
	Connected EventKind = iota
	// A peer sent a message.
	Message
	// A peer went away: it said goodbye, timed out, or the transport could no longer route to it.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Message:
		return "message"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is what a multiplexer reports. Frames is only set for Message events.
// For any one address, Connected is reported before its first Message.
type Event struct {
	Kind   EventKind
	Addr   Addr
	Frames [][]byte
}

// Multiplexer is a listening endpoint with many connected peers.
type Multiplexer interface {
	// Events delivers inbound messages and connection lifecycle events.
	// The channel is closed when the multiplexer is closed.
	Events() <-chan Event
	// Send queues frames for delivery to addr. It does not wait for delivery.
	// Returns ErrUnknownAddress if addr is not a live connection.
	Send(addr Addr, frames [][]byte) error
	Close() error
}

// Receive waits for the next event of m.
func Receive(ctx context.Context, m Multiplexer) (Event, error) {
	select {
	case ev, ok := <-m.Events():
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Role fixes the framing behaviour of a Conn.
type Role int

const (
	// Strict send-then-receive. The empty delimiter is added on send and
	// everything up to it stripped on receive.
	RoleRequest Role = iota
	// Raw frames in both directions, any order.
	RoleDealer
	// Send only; messages are distributed among connected pullers.
	RolePush
	// Receive only.
	RolePull
)

func (r Role) String() string {
	switch r {
	case RoleRequest:
		return "request"
	case RoleDealer:
		return "dealer"
	case RolePush:
		return "push"
	case RolePull:
		return "pull"
	default:
		return "unknown"
	}
}

// Conn is one end of a connection in a fixed role. Send and Recv may be called
// from different goroutines.
type Conn interface {
	Send(ctx context.Context, frames [][]byte) error
	Recv(ctx context.Context) ([][]byte, error)
	Close() error
}
