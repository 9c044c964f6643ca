package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dermesser/taskbroker/pipeline"
	"github.com/dermesser/taskbroker/transport"
	"github.com/dermesser/taskbroker/transport/zmqtransport"
)

var ventilatorCmd = &cobra.Command{
	Use:   "ventilator",
	Short: "Send one batch of tasks to the pipeline workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidatePipeline(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runVentilator(ctx)
	},
}

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Collect the acknowledgements of one batch and report the elapsed time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidatePipeline(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runSink(ctx)
	},
}

var pipelineWorkerCmd = &cobra.Command{
	Use:   "pipeline-worker",
	Short: "Work on tasks from the ventilator and acknowledge them to the sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidatePipeline(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runPipelineWorker(ctx)
	},
}

func init() {
	v := ventilatorCmd.Flags()
	v.String("bind", "", "endpoint workers pull tasks from")
	v.String("sink", "", "sink endpoint to connect to")
	v.Int("batch", 100, "tasks per batch")
	v.Bool("wait", true, "wait for Enter before sending")
	bindFlag(ventilatorCmd, "bind", "pipeline.tasks")
	bindFlag(ventilatorCmd, "sink", "pipeline.sink_peer")
	bindFlag(ventilatorCmd, "batch", "pipeline.batch")
	bindFlag(ventilatorCmd, "wait", "pipeline.wait_enter")

	s := sinkCmd.Flags()
	s.String("bind", "", "endpoint workers acknowledge to")
	bindFlag(sinkCmd, "bind", "pipeline.sink")

	w := pipelineWorkerCmd.Flags()
	w.String("tasks", "", "ventilator endpoint to connect to")
	w.String("sink", "", "sink endpoint to connect to")
	w.Int("concurrency", 1, "tasks worked on at once")
	bindFlag(pipelineWorkerCmd, "tasks", "pipeline.tasks_peer")
	bindFlag(pipelineWorkerCmd, "sink", "pipeline.sink_peer")
	bindFlag(pipelineWorkerCmd, "concurrency", "pipeline.concurrency")
}

// waitForEnter is the ventilator's start gate.
func waitForEnter(ctx context.Context) error {
	fmt.Print("Press Enter when the workers are ready: ")
	read := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		read <- err
	}()
	select {
	case err := <-read:
		fmt.Println("Sending tasks to workers...")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runVentilator(ctx context.Context) error {
	tasks, err := zmqtransport.Bind(cfg.Pipeline.Tasks, transport.RolePush, zmqtransport.WithLinger(5*time.Second))
	if err != nil {
		return err
	}
	defer tasks.Close()
	sink, err := zmqtransport.Dial(cfg.Pipeline.SinkPeer, transport.RolePush, zmqtransport.WithLinger(5*time.Second))
	if err != nil {
		return err
	}
	defer sink.Close()

	opts := []pipeline.ProducerOption{
		pipeline.WithBatchSize(cfg.Pipeline.Batch),
		pipeline.WithMaxWorkload(cfg.Pipeline.MaxWorkload),
	}
	if cfg.Pipeline.WaitEnter {
		opts = append(opts, pipeline.WithStartGate(waitForEnter))
	}
	b, err := pipeline.NewProducer(tasks, sink, opts...).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Total expected cost: %d msec\n", b.ExpectedCost.Milliseconds())
	return nil
}

func runSink(ctx context.Context) error {
	conn, err := zmqtransport.Bind(cfg.Pipeline.Sink, transport.RolePull)
	if err != nil {
		return err
	}
	defer conn.Close()

	c := pipeline.NewCollector(cfg.Pipeline.Batch, pipeline.WithProgress(func(_ int, mark byte) {
		os.Stdout.Write([]byte{mark})
	}))
	r, err := c.Run(ctx, conn)
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Total elapsed time: %d msec\n", r.Elapsed.Milliseconds())
	return nil
}

func runPipelineWorker(ctx context.Context) error {
	tasks, err := zmqtransport.Dial(cfg.Pipeline.TasksPeer, transport.RolePull)
	if err != nil {
		return err
	}
	defer tasks.Close()
	sink, err := zmqtransport.Dial(cfg.Pipeline.SinkPeer, transport.RolePush)
	if err != nil {
		return err
	}
	defer sink.Close()

	return pipeline.NewWorker(tasks, sink, cfg.Pipeline.Concurrency).Run(ctx)
}
