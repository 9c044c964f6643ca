package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	proto "github.com/gogo/protobuf/proto"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/pipeline/pipelinepb"
	"github.com/dermesser/taskbroker/transport"
)

// Worker pulls tasks, performs them by sleeping for their workload and
// acknowledges each one to the collector. Up to concurrency tasks run at once.
type Worker struct {
	tasks, sink transport.Conn
	concurrency int
	done        uint64
	log         zerolog.Logger
}

// NewWorker creates a pipeline worker. concurrency < 1 means one task per CPU.
func NewWorker(tasks, sink transport.Conn, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	return &Worker{tasks: tasks, sink: sink, concurrency: concurrency, log: log.Component("pipeline-worker")}
}

// Done returns the number of acknowledged tasks.
func (w *Worker) Done() uint64 {
	return atomic.LoadUint64(&w.done)
}

// Run works on tasks until ctx is cancelled or the task connection closes.
// Tasks in progress are finished and acknowledged before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	pool, err := ants.NewPool(w.concurrency)
	if err != nil {
		return err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		frames, err := w.tasks.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			w.log.Warn().Err(err).Msg("skipped incoming task")
			continue
		}

		task, err := decodeTask(frames)
		if err != nil {
			w.log.Warn().Err(err).Msg("dropped task")
			continue
		}
		if log.IsLoggingEnabled(log.LevelDebug) {
			w.log.Debug().Uint32("seq", task.Seq).Uint32("workload_ms", task.WorkloadMs).Msg("got task")
		}

		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			w.perform(task)
		})
		if err != nil {
			wg.Done()
			w.log.Error().Err(err).Msg("could not schedule task")
		}
	}
}

func decodeTask(frames [][]byte) (*pipelinepb.Task, error) {
	if len(frames) != 1 {
		return nil, transport.NewProtocolViolation("task must be one frame", nil)
	}
	var t pipelinepb.Task
	if err := proto.Unmarshal(frames[0], &t); err != nil {
		return nil, transport.NewProtocolViolation("task encoding", err)
	}
	return &t, nil
}

func (w *Worker) perform(t *pipelinepb.Task) {
	// fake a long computation
	time.Sleep(time.Duration(t.WorkloadMs) * time.Millisecond)

	ackCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.sink.Send(ackCtx, [][]byte{{}}); err != nil {
		w.log.Error().Err(err).Uint32("seq", t.Seq).Msg("could not acknowledge task")
		return
	}
	atomic.AddUint64(&w.done, 1)
}
