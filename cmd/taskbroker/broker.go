package main

import (
	"context"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dermesser/taskbroker/broker"
	"github.com/dermesser/taskbroker/log"
	"github.com/dermesser/taskbroker/transport/zmqtransport"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the load-balancing broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateBroker(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runBroker(ctx)
	},
}

func init() {
	f := brokerCmd.Flags()
	f.String("frontend", "", "endpoint clients connect to")
	f.String("backend", "", "endpoint workers connect to")
	f.Int("max-pending", 0, "backlog bound; 0 is unbounded")
	f.Duration("request-timeout", 0, "re-queue requests a worker holds for longer; 0 disables")
	f.Bool("requeue-lost", false, "re-queue requests of workers that disconnect")
	bindFlag(brokerCmd, "frontend", "broker.frontend")
	bindFlag(brokerCmd, "backend", "broker.backend")
	bindFlag(brokerCmd, "max-pending", "broker.max_pending")
	bindFlag(brokerCmd, "request-timeout", "broker.request_timeout")
	bindFlag(brokerCmd, "requeue-lost", "broker.requeue_lost")
}

// setupMetrics installs an in-memory sink; SIGUSR1 dumps it to stderr.
func setupMetrics() error {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	mc := metrics.DefaultConfig("taskbroker")
	mc.EnableHostname = false
	_, err := metrics.NewGlobal(mc, inm)
	return err
}

func runBroker(ctx context.Context) error {
	if err := setupMetrics(); err != nil {
		return errors.Wrap(err, "setting up metrics")
	}

	frontend, err := zmqtransport.BindRouter(cfg.Broker.Frontend)
	if err != nil {
		return err
	}
	defer frontend.Close()
	backend, err := zmqtransport.BindRouter(cfg.Broker.Backend, zmqtransport.WithPeerTTL(cfg.Broker.PeerTTL))
	if err != nil {
		return err
	}
	defer backend.Close()

	r := broker.New(frontend, backend,
		broker.WithMaxPending(cfg.Broker.MaxPending),
		broker.WithRequestTimeout(cfg.Broker.RequestTimeout),
		broker.WithRequeueOnLoss(cfg.Broker.RequeueLost))

	if cfg.Broker.MetricsInterval > 0 {
		go logStats(ctx, r, cfg.Broker.MetricsInterval)
	}
	log.Logf(log.LevelInfo, "Broker running; frontend %s, backend %s", cfg.Broker.Frontend, cfg.Broker.Backend)
	return r.Run(ctx)
}

func logStats(ctx context.Context, r *broker.Router, every time.Duration) {
	lg := log.Component("stats")
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := r.Stats()
			lg.Info().Int("idle", s.IdleWorkers).Int("busy", s.BusyWorkers).Int("pending", s.Pending).
				Uint64("forwarded", s.Forwarded).Uint64("replied", s.Replied).Uint64("lost", s.Lost).
				Uint64("overloaded", s.Overloaded).Msg("broker stats")
		}
	}
}
