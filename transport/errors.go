package transport

import (
	"errors"
	"fmt"

	"github.com/dermesser/taskbroker/envelope"
)

var (
	// The address no longer maps to a live connection.
	ErrUnknownAddress = errors.New("unknown address")
	// The connection or multiplexer has been closed.
	ErrClosed = errors.New("transport closed")
	// A Conn was used against its role, e.g. Recv on a push connection.
	ErrWrongRole = errors.New("operation not supported by connection role")
)

// TransportError is a send or receive failure. It is logged and never fatal,
// except for bind and connect failures at startup.
type TransportError struct {
	Op   string
	Addr Addr
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolViolation is a malformed or unexpected message. The message is dropped.
type ProtocolViolation struct {
	Reason string
	Err    error
}

func NewProtocolViolation(reason string, err error) *ProtocolViolation {
	return &ProtocolViolation{Reason: reason, Err: err}
}

func (e *ProtocolViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation: %s: %v", e.Reason, e.Err)
	}
	return "protocol violation: " + e.Reason
}

func (e *ProtocolViolation) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a TransportError, or an UnknownAddress
// which is treated the same way.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrUnknownAddress)
}

// IsProtocolViolation reports whether err is a ProtocolViolation, or one of
// the envelope errors which are treated the same way.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv) ||
		errors.Is(err, envelope.ErrMissingDelimiter) ||
		errors.Is(err, envelope.ErrEmptyAddress)
}
