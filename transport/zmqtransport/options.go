package zmqtransport

import (
	"time"

	"github.com/pborman/uuid"
	zmq "github.com/pebbe/zmq4"
)

type options struct {
	identity  string
	linger    time.Duration
	hwm       int
	peerTTL   time.Duration
	reconnect time.Duration
}

// Option configures a socket created by this package.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		identity:  uuid.NewRandom().String(),
		linger:    time.Second,
		hwm:       1000,
		reconnect: 100 * time.Millisecond,
	}
}

// WithIdentity sets the routing identity a connecting socket presents to a
// router. Defaults to a random UUID.
func WithIdentity(id string) Option {
	return func(o *options) {
		o.identity = id
	}
}

// WithLinger sets how long unsent messages are kept after Close. Defaults to
// one second.
func WithLinger(d time.Duration) Option {
	return func(o *options) {
		o.linger = d
	}
}

// WithHWM sets the send and receive high water marks.
func WithHWM(n int) Option {
	return func(o *options) {
		o.hwm = n
	}
}

// WithPeerTTL makes a router forget peers it has not heard from within d.
// Zero disables expiry.
func WithPeerTTL(d time.Duration) Option {
	return func(o *options) {
		o.peerTTL = d
	}
}

// WithReconnectInterval sets the delay before a connecting socket retries.
func WithReconnectInterval(d time.Duration) Option {
	return func(o *options) {
		o.reconnect = d
	}
}

func (o *options) apply(sock *zmq.Socket, connecting bool) error {
	if err := sock.SetLinger(o.linger); err != nil {
		return err
	}
	if err := sock.SetSndhwm(o.hwm); err != nil {
		return err
	}
	if err := sock.SetRcvhwm(o.hwm); err != nil {
		return err
	}
	if err := sock.SetIpv6(true); err != nil {
		return err
	}
	if connecting {
		if err := sock.SetReconnectIvl(o.reconnect); err != nil {
			return err
		}
	}
	return nil
}
