package transport

import (
	"bytes"

	"github.com/dermesser/taskbroker/envelope"
)

// Control frames are single-frame messages that peers send to a multiplexer
// about their connection, rather than as application data.
var (
	// Sent by a worker when it connects.
	MagicReady = []byte("___ReAdY___")
	// Sent periodically by a worker to keep its connection alive.
	MagicHeartbeat = []byte("___HeArTbEaT___")
	// Sent by a peer before it disconnects.
	MagicGoodbye = []byte("___GoOdByE___")
	// Sent by the broker instead of a reply when its backlog is full.
	MagicOverloaded = []byte("___OvErLoAdEd___")
)

type ControlKind int

const (
	NotControl ControlKind = iota
	ControlReady
	ControlHeartbeat
	ControlGoodbye
)

// Control classifies an inbound message.
func Control(frames [][]byte) ControlKind {
	if len(frames) != 1 {
		return NotControl
	}
	switch {
	case bytes.Equal(frames[0], MagicReady):
		return ControlReady
	case bytes.Equal(frames[0], MagicHeartbeat):
		return ControlHeartbeat
	case bytes.Equal(frames[0], MagicGoodbye):
		return ControlGoodbye
	}
	return NotControl
}

// IsOverloaded reports whether a reply payload is the broker's overload signal.
func IsOverloaded(payload [][]byte) bool {
	return len(payload) == 1 && bytes.Equal(payload[0], MagicOverloaded)
}

// IsGoodbye reports whether a peer is saying goodbye: either the bare control
// frame, as dealers send it, or GOODBYE as the only payload frame behind an
// envelope, as request sockets send it.
func IsGoodbye(frames [][]byte) bool {
	if Control(frames) == ControlGoodbye {
		return true
	}
	if len(frames) < 2 || len(frames[len(frames)-2]) != 0 {
		return false
	}
	_, payload, err := envelope.Split(frames)
	return err == nil && Control(payload) == ControlGoodbye
}
