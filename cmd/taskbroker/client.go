package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dermesser/taskbroker/client"
	"github.com/dermesser/taskbroker/transport"
	"github.com/dermesser/taskbroker/transport/zmqtransport"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send requests through the broker frontend, one at a time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateClient(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return runClient(ctx)
	},
}

func init() {
	f := clientCmd.Flags()
	f.String("frontend", "", "broker frontend endpoint")
	f.IntP("requests", "n", 10, "number of requests")
	f.String("message", "Hello", "request payload")
	f.Duration("timeout", 0, "time to wait for each reply")
	bindFlag(clientCmd, "frontend", "client.frontend")
	bindFlag(clientCmd, "requests", "client.requests")
	bindFlag(clientCmd, "message", "client.message")
	bindFlag(clientCmd, "timeout", "client.timeout")
}

func runClient(ctx context.Context) error {
	fmt.Fprintf(os.Stdout, "Connecting to %s...\n", cfg.Client.Frontend)
	conn, err := zmqtransport.Dial(cfg.Client.Frontend, transport.RoleRequest)
	if err != nil {
		return err
	}
	c := client.New(conn, client.NewParams().Timeout(cfg.Client.Timeout))
	defer c.Close()

	return c.Run(ctx, cfg.Client.Requests, [][]byte{[]byte(cfg.Client.Message)}, func(i int, reply [][]byte) {
		printReply(os.Stdout, "", i, reply)
	})
}
