package zmqtransport

import (
	"context"

	"github.com/pkg/errors"
	zmq "github.com/pebbe/zmq4"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport"
)

// Conn is a transport.Conn on a single zmq socket.
type Conn struct {
	endpoint string
	role     transport.Role
	identity string
	sock     *socket
}

func socketType(role transport.Role) (zmq.Type, error) {
	switch role {
	case transport.RoleRequest:
		return zmq.REQ, nil
	case transport.RoleDealer:
		return zmq.DEALER, nil
	case transport.RolePush:
		return zmq.PUSH, nil
	case transport.RolePull:
		return zmq.PULL, nil
	}
	return 0, transport.ErrWrongRole
}

func newConn(endpoint string, role transport.Role, connect bool, opts []Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	t, err := socketType(role)
	if err != nil {
		return nil, err
	}

	zsock, err := zmq.NewSocket(t)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s socket", role)
	}
	if err := o.apply(zsock, connect); err != nil {
		zsock.Close()
		return nil, errors.Wrapf(err, "configuring %s socket", role)
	}
	if role == transport.RoleRequest || role == transport.RoleDealer {
		if err := zsock.SetIdentity(o.identity); err != nil {
			zsock.Close()
			return nil, errors.Wrap(err, "setting identity")
		}
	}
	if role == transport.RoleRequest {
		// allow a new request after one whose reply never came
		zsock.SetReqRelaxed(1)
		zsock.SetReqCorrelate(1)
	}

	if connect {
		zsock.SetImmediate(true)
		err = zsock.Connect(endpoint)
	} else {
		err = zsock.Bind(endpoint)
	}
	if err != nil {
		zsock.Close()
		op := "bind " + endpoint
		if connect {
			op = "connect " + endpoint
		}
		return nil, &transport.TransportError{Op: op, Err: err}
	}

	s, err := newSocket(zsock)
	if err != nil {
		zsock.Close()
		return nil, errors.Wrapf(err, "starting %s socket loop", role)
	}
	c := &Conn{endpoint: endpoint, role: role, identity: o.identity, sock: s}
	go c.reportFailures()
	return c, nil
}

// Dial creates a socket in the given role and connects it to endpoint.
func Dial(endpoint string, role transport.Role, opts ...Option) (*Conn, error) {
	return newConn(endpoint, role, true, opts)
}

// Bind creates a socket in the given role and binds it to endpoint. Used for
// the pipeline's push and pull sides; routers use BindRouter.
func Bind(endpoint string, role transport.Role, opts ...Option) (*Conn, error) {
	return newConn(endpoint, role, false, opts)
}

func (c *Conn) reportFailures() {
	for {
		select {
		case f := <-c.sock.failed:
			log.Logf(log.LevelWarnings, "Send on %s socket to %s failed: %s", c.role, c.endpoint, f.err)
		case <-c.sock.done:
			return
		}
	}
}

// Identity returns the routing identity presented to routers.
func (c *Conn) Identity() string {
	return c.identity
}

func (c *Conn) Send(ctx context.Context, frames [][]byte) error {
	if c.role == transport.RolePull {
		return transport.ErrWrongRole
	}
	if c.sock.closed() {
		return transport.ErrClosed
	}
	select {
	case c.sock.send <- frames:
		return nil
	case <-c.sock.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Recv(ctx context.Context) ([][]byte, error) {
	if c.role == transport.RolePush {
		return nil, transport.ErrWrongRole
	}
	select {
	case msg, ok := <-c.sock.recv:
		if !ok {
			return nil, transport.ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.sock.close()
	return nil
}
