package cmd

import (
	"context"

	"github.com/idleonweb/idleonweb/cmd/flags"
	"github.com/spf13/cobra"
)

var InjectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject the enabled plugins right away, then serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags.InjectOnStart = true
		return runFxUntilSignal(context.Background(), newApp(), stopTimeout)
	},
}

func init() {
	RootCmd.AddCommand(InjectCmd)
}
