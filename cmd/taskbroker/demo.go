package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dermesser/taskbroker/broker"
	"github.com/dermesser/taskbroker/client"
	"github.com/dermesser/taskbroker/transport"
	"github.com/dermesser/taskbroker/worker"
)

var demoOpts struct {
	workers, clients int
	delay            time.Duration
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a broker with workers and clients in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runDemo(ctx)
	},
}

func init() {
	f := demoCmd.Flags()
	f.IntVar(&demoOpts.workers, "workers", 2, "number of workers")
	f.IntVar(&demoOpts.clients, "clients", 3, "number of clients")
	f.DurationVar(&demoOpts.delay, "delay", 100*time.Millisecond, "time each worker spends on a request")
}

func runDemo(ctx context.Context) error {
	hub := transport.NewHub()
	frontend, err := hub.BindRouter("frontend")
	if err != nil {
		return err
	}
	defer frontend.Close()
	backend, err := hub.BindRouter("backend")
	if err != nil {
		return err
	}
	defer backend.Close()

	r := broker.New(frontend, backend,
		broker.WithMaxPending(cfg.Broker.MaxPending),
		broker.WithRequeueOnLoss(cfg.Broker.RequeueLost))

	// broker and workers run until the clients are done
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	var servers errgroup.Group
	servers.Go(func() error { return r.Run(serveCtx) })
	servers.Go(func() error {
		dial := func(int) (transport.Conn, error) { return hub.Dial("backend", transport.RoleDealer) }
		return worker.RunPool(serveCtx, demoOpts.workers, dial,
			worker.Reply([][]byte{[]byte(cfg.Worker.Reply)}, demoOpts.delay))
	})

	start := time.Now()
	clients, cctx := errgroup.WithContext(ctx)
	for i := 0; i < demoOpts.clients; i++ {
		name := fmt.Sprintf("client-%d", i)
		conn, err := hub.Dial("frontend", transport.RoleRequest)
		if err != nil {
			stop()
			servers.Wait()
			return err
		}
		c := client.New(conn, client.NewParams().Name(name).Timeout(cfg.Client.Timeout))
		clients.Go(func() error {
			defer c.Close()
			return c.Run(cctx, cfg.Client.Requests, [][]byte{[]byte(cfg.Client.Message)}, func(i int, reply [][]byte) {
				printReply(os.Stdout, name+": ", i, reply)
			})
		})
	}
	err = clients.Wait()

	stop()
	if serr := servers.Wait(); err == nil {
		err = serr
	}
	s := r.Stats()
	fmt.Printf("%d requests in %s; forwarded %d, queued %d, overloaded %d\n",
		s.Replied, time.Since(start).Round(time.Millisecond), s.Forwarded, s.Queued, s.Overloaded)
	return err
}
