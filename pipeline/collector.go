package pipeline

import (
	"context"
	"errors"
	"time"

	proto "github.com/gogo/protobuf/proto"
	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/pipeline/pipelinepb"
	"github.com/dermesser/taskbroker/transport"
)

// Report is the outcome of one batch.
type Report struct {
	BatchID      string
	Acks         int
	Elapsed      time.Duration
	ExpectedCost time.Duration
}

// Progress is called for every acknowledgement. mark is ':' for every tenth
// acknowledgement (starting with the first) and '.' otherwise.
type Progress func(acks int, mark byte)

type collectorState int

const (
	awaitingStart collectorState = iota
	counting
	complete
)

type collectorOptions struct {
	progress Progress
	now      func() time.Time
}

type CollectorOption func(*collectorOptions)

func WithProgress(p Progress) CollectorOption {
	return func(o *collectorOptions) { o.progress = p }
}

func withCollectorClock(now func() time.Time) CollectorOption {
	return func(o *collectorOptions) { o.now = now }
}

// Collector counts the acknowledgements of one batch.
type Collector struct {
	size   int
	target int
	opts   collectorOptions

	state   collectorState
	batchID string
	started time.Time
	report  Report

	log zerolog.Logger
}

// NewCollector creates a collector expecting size acknowledgements. With size
// 0 it expects as many as the batch start signal announces; otherwise the
// configured size wins over the announced one.
func NewCollector(size int, opts ...CollectorOption) *Collector {
	o := collectorOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Collector{size: size, opts: o, log: log.Component("collector")}
}

/*
Observe feeds one inbound message to the collector and reports whether the
batch is complete. A message that does not fit the current state is rejected
with a ProtocolViolation and leaves the state unchanged:

  - an acknowledgement before the batch start signal
  - an acknowledgement that is not exactly one empty frame
  - a second batch start signal
  - anything after the batch completed
*/
func (c *Collector) Observe(frames [][]byte) (bool, error) {
	if c.state == complete {
		return true, transport.NewProtocolViolation("collector", ErrBatchComplete)
	}
	if isBatchStart(frames) {
		return c.start(frames[1])
	}
	if c.state == awaitingStart {
		return false, transport.NewProtocolViolation("collector", ErrAckBeforeStart)
	}
	if !isAck(frames) {
		return false, transport.NewProtocolViolation("collector", ErrNonEmptyAck)
	}

	c.report.Acks++
	if c.opts.progress != nil {
		mark := byte('.')
		if (c.report.Acks-1)%10 == 0 {
			mark = ':'
		}
		c.opts.progress(c.report.Acks, mark)
	}
	if c.report.Acks >= c.target {
		c.finish()
		return true, nil
	}
	return false, nil
}

func (c *Collector) start(buf []byte) (bool, error) {
	if c.state != awaitingStart {
		return false, transport.NewProtocolViolation("collector", ErrSecondStart)
	}
	var bs pipelinepb.BatchStart
	if err := proto.Unmarshal(buf, &bs); err != nil {
		return false, transport.NewProtocolViolation("batch start encoding", err)
	}

	c.target = c.size
	announced := int(bs.GetSize())
	switch {
	case c.size == 0:
		c.target = announced
	case announced != 0 && announced != c.size:
		c.log.Warn().Int("configured", c.size).Int("announced", announced).
			Msg("batch size differs from the announced one; counting the configured size")
	}

	c.state = counting
	c.started = c.opts.now()
	c.report = Report{
		BatchID:      bs.GetBatchId(),
		ExpectedCost: time.Duration(bs.GetExpectedCostMs()) * time.Millisecond,
	}
	c.log.Info().Str("batch", bs.GetBatchId()).Int("size", c.target).Msg("batch started")

	if c.target <= 0 {
		c.finish()
		return true, nil
	}
	return false, nil
}

func (c *Collector) finish() {
	c.state = complete
	c.report.Elapsed = c.opts.now().Sub(c.started)
	c.log.Info().Str("batch", c.report.BatchID).Int("acks", c.report.Acks).
		Dur("elapsed", c.report.Elapsed).Dur("expected_cost", c.report.ExpectedCost).Msg("batch complete")
}

// Report returns the result so far; Elapsed is only set once the batch is complete.
func (c *Collector) Report() Report {
	return c.report
}

// Run receives on conn until one batch is complete. Protocol violations are
// logged and the offending message dropped.
func (c *Collector) Run(ctx context.Context, conn transport.Conn) (Report, error) {
	for {
		frames, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return c.report, err
			}
			c.log.Warn().Err(err).Msg("skipped incoming message")
			continue
		}
		done, err := c.Observe(frames)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropped message")
			continue
		}
		if done {
			return c.report, nil
		}
	}
}
