// Command taskbroker runs the roles of the task distribution system: the
// load-balancing broker with its workers and clients, and the
// ventilator/worker/sink pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dermesser/taskbroker/config"
	"github.com/dermesser/taskbroker/transport/zmqtransport"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "taskbroker",
	Short: "Load-balancing request broker and task pipeline",
	Long: `taskbroker decouples clients from a pool of interchangeable workers.

The broker binds a frontend for clients and a backend for workers and hands
every request to exactly one idle worker. The ventilator, pipeline-worker and
sink commands run the fan-out/fan-in variant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "warn", "none, error, warn, info or debug")
	rootCmd.PersistentFlags().Bool("console", false, "human-readable log output")
	bindFlag(rootCmd, "config", "config")
	bindFlag(rootCmd, "log-level", "log.level")
	bindFlag(rootCmd, "console", "log.console")

	rootCmd.AddCommand(brokerCmd, workerCmd, clientCmd, ventilatorCmd, sinkCmd, pipelineWorkerCmd, demoCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	err := rootCmd.Execute()
	// deferred Closes have run; let lingering messages leave
	zmqtransport.Shutdown(5 * time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskbroker:", err)
		os.Exit(1)
	}
}
