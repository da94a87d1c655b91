// Command rentstream watches a Neo N3 rental marketplace contract and fans
// its events out to notifications, analytics and websocket clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "rentstream",
		Short: "Rental marketplace event stream service",
		Long: `rentstream subscribes to the rental marketplace contract on a Neo N3 node,
turns contract notifications into domain events and delivers them to
in-process subscribers, per-user notification inboxes, delivery channels,
an analytics sink and websocket clients.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before RENTSTREAM_* overrides (ignored if missing)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	root.AddCommand(newStatusCommand())
	root.AddCommand(newReconnectCommand())
	return root
}
