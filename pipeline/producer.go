package pipeline

import (
	"context"
	"math/rand"
	"time"

	proto "github.com/gogo/protobuf/proto"
	"github.com/pborman/uuid"
	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/pipeline/pipelinepb"
	"github.com/dermesser/taskbroker/transport"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxWorkload = 100 * time.Millisecond
)

// Gate blocks until the producer may start, e.g. until the operator has
// confirmed that workers are connected.
type Gate func(ctx context.Context) error

type producerOptions struct {
	size        int
	maxWorkload time.Duration
	gate        Gate
	rng         *rand.Rand
}

type ProducerOption func(*producerOptions)

func WithBatchSize(n int) ProducerOption {
	return func(o *producerOptions) { o.size = n }
}

// WithMaxWorkload bounds the random task workloads, which are drawn from
// [1ms, max).
func WithMaxWorkload(max time.Duration) ProducerOption {
	return func(o *producerOptions) { o.maxWorkload = max }
}

func WithStartGate(g Gate) ProducerOption {
	return func(o *producerOptions) { o.gate = g }
}

// WithSeed makes the workloads reproducible.
func WithSeed(seed int64) ProducerOption {
	return func(o *producerOptions) { o.rng = rand.New(rand.NewSource(seed)) }
}

// Batch describes what a producer sent.
type Batch struct {
	ID           string
	Size         int
	ExpectedCost time.Duration
}

// Producer sends batches of tasks to workers on a push connection and the
// batch start signal to the collector on another.
type Producer struct {
	tasks, sink transport.Conn
	opts        producerOptions
	log         zerolog.Logger
}

func NewProducer(tasks, sink transport.Conn, opts ...ProducerOption) *Producer {
	o := producerOptions{size: DefaultBatchSize, maxWorkload: DefaultMaxWorkload}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Producer{tasks: tasks, sink: sink, opts: o, log: log.Component("producer")}
}

func (p *Producer) workloads() ([]uint32, time.Duration) {
	maxMs := int(p.opts.maxWorkload / time.Millisecond)
	if maxMs < 2 {
		maxMs = 2
	}
	w := make([]uint32, p.opts.size)
	var total time.Duration
	for i := range w {
		w[i] = uint32(1 + p.opts.rng.Intn(maxMs-1))
		total += time.Duration(w[i]) * time.Millisecond
	}
	return w, total
}

// Run waits for the start gate, then signals the batch start to the collector
// and sends one batch of tasks.
func (p *Producer) Run(ctx context.Context) (Batch, error) {
	if p.opts.gate != nil {
		if err := p.opts.gate(ctx); err != nil {
			return Batch{}, perrors.Wrap(err, "waiting for start")
		}
	}

	workloads, cost := p.workloads()
	b := Batch{ID: uuid.NewRandom().String(), Size: len(workloads), ExpectedCost: cost}
	lg := p.log.With().Str("batch", b.ID).Logger()

	start, err := proto.Marshal(&pipelinepb.BatchStart{
		BatchId:        b.ID,
		Size:           uint32(b.Size),
		ExpectedCostMs: uint64(cost / time.Millisecond),
	})
	if err != nil {
		return b, err
	}
	if err := p.sink.Send(ctx, [][]byte{MagicBatchStart, start}); err != nil {
		return b, perrors.Wrap(err, "signalling batch start")
	}
	lg.Info().Int("size", b.Size).Msg("sending tasks to workers")

	for i, w := range workloads {
		buf, err := proto.Marshal(&pipelinepb.Task{BatchId: b.ID, Seq: uint32(i), WorkloadMs: w})
		if err != nil {
			return b, err
		}
		if err := p.tasks.Send(ctx, [][]byte{buf}); err != nil {
			return b, perrors.Wrapf(err, "sending task %d", i)
		}
	}
	lg.Info().Dur("expected_cost", cost).Msg("batch sent")
	return b, nil
}
