package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "callflow",
		Short: "Turn Asterisk AMI events into call lifecycle events",
		Long: `callflow correlates Asterisk Manager Interface events into dial, up,
warm transfer, cold transfer and hangup events and hands them to MQTT, a SQL
store and the log.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/asterisk-callflow/callflow.yaml", "Path to config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newReplayCmd(),
		newCaptureCmd(&configPath),
		newSanitizeCmd(),
		newCausesCmd(),
	)
	return root
}
