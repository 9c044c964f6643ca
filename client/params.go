package client

import "time"

const DefaultTimeout = 10 * time.Second

// Params determines how requests are executed. There are builder methods to set the various parameters.
type Params struct {
	name    string
	timeout time.Duration
}

func NewParams() *Params {
	return &Params{timeout: DefaultTimeout}
}

// Name is used in log lines; a random token by default.
func (p *Params) Name(n string) *Params {
	p.name = n
	return p
}

// Timeout bounds one request/reply exchange. 0 waits forever.
func (p *Params) Timeout(d time.Duration) *Params {
	p.timeout = d
	return p
}
