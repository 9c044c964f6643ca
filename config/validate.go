package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) endpoint(field, value string) {
	if value == "" {
		v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: "endpoint must not be empty"})
	}
}

func (v *validator) positive(field string, value int) {
	if value <= 0 {
		v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: "must be positive"})
	}
}

func (v *validator) nonNegative(field string, value int64) {
	if value < 0 {
		v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: "must not be negative"})
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

// ValidateBroker checks the settings the broker command needs.
func (c *Config) ValidateBroker() error {
	var v validator
	v.endpoint("broker.frontend", c.Broker.Frontend)
	v.endpoint("broker.backend", c.Broker.Backend)
	v.nonNegative("broker.max_pending", int64(c.Broker.MaxPending))
	v.nonNegative("broker.request_timeout", int64(c.Broker.RequestTimeout))
	v.nonNegative("broker.peer_ttl", int64(c.Broker.PeerTTL))
	return v.err()
}

func (c *Config) ValidateWorker() error {
	var v validator
	v.endpoint("worker.backend", c.Worker.Backend)
	v.positive("worker.count", c.Worker.Count)
	v.nonNegative("worker.delay", int64(c.Worker.Delay))
	v.nonNegative("worker.heartbeat", int64(c.Worker.Heartbeat))
	return v.err()
}

func (c *Config) ValidateClient() error {
	var v validator
	v.endpoint("client.frontend", c.Client.Frontend)
	v.positive("client.requests", c.Client.Requests)
	if c.Client.Message == "" {
		v.errs = append(v.errs, ValidationError{Field: "client.message", Value: "", Message: "requests must not be empty"})
	}
	return v.err()
}

func (c *Config) ValidatePipeline() error {
	var v validator
	v.endpoint("pipeline.tasks", c.Pipeline.Tasks)
	v.endpoint("pipeline.sink", c.Pipeline.Sink)
	v.endpoint("pipeline.tasks_peer", c.Pipeline.TasksPeer)
	v.endpoint("pipeline.sink_peer", c.Pipeline.SinkPeer)
	v.nonNegative("pipeline.batch", int64(c.Pipeline.Batch))
	v.positive("pipeline.concurrency", c.Pipeline.Concurrency)
	if c.Pipeline.MaxWorkload < 2*time.Millisecond {
		v.errs = append(v.errs, ValidationError{Field: "pipeline.max_workload", Value: c.Pipeline.MaxWorkload, Message: "must be at least 2ms"})
	}
	return v.err()
}

// Validate checks every role.
func (c *Config) Validate() error {
	var all ValidationErrors
	if _, err := c.Log.LogLevel(); err != nil {
		all = append(all, ValidationError{Field: "log.level", Value: c.Log.Level, Message: "must be one of none, error, warn, info, debug"})
	}
	for _, check := range []func() error{c.ValidateBroker, c.ValidateWorker, c.ValidateClient, c.ValidatePipeline} {
		if errs, ok := check().(ValidationErrors); ok {
			all = append(all, errs...)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return all
}
