package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/idleonweb/idleonweb/cmd/flags"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// openStore is swapped in tests.
var openStore = func() (*conf.Store, error) {
	return conf.Open(afero.NewOsFs(), flags.ConfigFile)
}

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the configuration file",
}

var configGetCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Print the value at a dotted path, or the whole file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return printJSON(cmd.OutOrStdout(), s.Snapshot())
		}
		if !s.Has(args[0]) {
			return fmt.Errorf("config path %q is not set", args[0])
		}
		return printJSON(cmd.OutOrStdout(), s.Get(args[0]))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <path> <json-value>",
	Short: "Set the value at a dotted path; values that are not JSON are stored as strings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
			v = args[1]
		}
		if err := s.Set(args[0], v); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], s.Path())
		return nil
	},
}

var configPluginsCmd = &cobra.Command{
	Use:   "plugins [add|remove <id>]",
	Short: "List, enable or disable plugins",
	Args: func(cmd *cobra.Command, args []string) error {
		switch {
		case len(args) == 0:
			return nil
		case len(args) == 2 && (args[0] == "add" || args[0] == "remove"):
			return nil
		}
		return fmt.Errorf("usage: %s", cmd.Use)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			enabled := s.ListPlugins()
			fmt.Fprintln(out, "Enabled:")
			for _, id := range enabled {
				fmt.Fprintf(out, "  %s\n", id)
			}
			fmt.Fprintln(out, "Built-in:")
			for _, id := range plugin.FactoryIDs() {
				mark := ""
				if slices.Contains(enabled, id) {
					mark = " (enabled)"
				}
				fmt.Fprintf(out, "  %s%s\n", id, mark)
			}
			return nil
		}
		id := args[1]
		if args[0] == "add" {
			if err := s.AddPlugin(id, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "Enabled %s\n", id)
			return nil
		}
		if err := s.RemovePlugin(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Disabled %s\n", id)
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func init() {
	ConfigCmd.AddCommand(configGetCmd, configSetCmd, configPluginsCmd)
	RootCmd.AddCommand(ConfigCmd)
}
