package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dermesser/taskbroker/transport"
	"github.com/dermesser/taskbroker/transport/zmqtransport"
	"github.com/dermesser/taskbroker/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve requests from the broker backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateWorker(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runWorkers(ctx)
	},
}

func init() {
	f := workerCmd.Flags()
	f.String("backend", "", "broker backend endpoint")
	f.Int("count", 1, "number of workers to run")
	f.Duration("delay", time.Second, "time spent on each request")
	f.String("reply", "World", "reply payload")
	f.Bool("echo", false, "reply with the request instead")
	bindFlag(workerCmd, "backend", "worker.backend")
	bindFlag(workerCmd, "count", "worker.count")
	bindFlag(workerCmd, "delay", "worker.delay")
	bindFlag(workerCmd, "reply", "worker.reply")
	bindFlag(workerCmd, "echo", "worker.echo")
}

func workerHandler() worker.Handler {
	if cfg.Worker.Echo {
		return worker.Echo
	}
	return worker.Reply([][]byte{[]byte(cfg.Worker.Reply)}, cfg.Worker.Delay)
}

func runWorkers(ctx context.Context) error {
	dial := func(int) (transport.Conn, error) {
		return zmqtransport.Dial(cfg.Worker.Backend, transport.RoleDealer)
	}
	return worker.RunPool(ctx, cfg.Worker.Count, dial, workerHandler(), worker.WithHeartbeat(cfg.Worker.Heartbeat))
}
