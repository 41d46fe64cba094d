package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Web UI and coordinator without the REPL",
	Long:  `Run the Web UI and coordinator until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFxUntilSignal(context.Background(), newApp(), stopTimeout)
	},
}

func init() {
	RootCmd.AddCommand(ServeCmd)
}
