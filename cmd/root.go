package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/cmd/flags"
	_ "github.com/idleonweb/idleonweb/internal"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/eventType"
	logutil "github.com/idleonweb/idleonweb/internal/log"
	"github.com/mstoykov/envconfig"
	"github.com/spf13/cobra"
)

// Env holds the defaults taken from the environment. Flags override them.
type Env struct {
	Standalone bool   `envconfig:"IDLEONWEB_STANDALONE"`
	Debug      bool   `envconfig:"IDLEONWEB_DEBUG"`
	Config     string `envconfig:"IDLEONWEB_CONFIG"`
	PluginDir  string `envconfig:"IDLEONWEB_PLUGIN_DIR"`
	Listen     string `envconfig:"IDLEONWEB_LISTEN"`
}

// LoadEnv reads Env through lookup and fills the paths left empty.
func LoadEnv(lookup func(string) (string, bool), executable string) (Env, error) {
	var e Env
	if err := envconfig.Process("", &e, lookup); err != nil {
		return e, fmt.Errorf("environment: %w", err)
	}
	if e.Config == "" {
		e.Config = conf.ResolvePath(e.Standalone, executable)
	}
	if e.PluginDir == "" {
		e.PluginDir = filepath.Join(filepath.Dir(e.Config), "plugins")
	}
	return e, nil
}

var RootCmd = &cobra.Command{
	Use:   "idleonweb",
	Short: "IdleonWeb injects plugins into the Legends of Idleon web game",
	Long: `IdleonWeb launches or attaches to a Chromium browser, injects a bundle of
plugins into the game page and serves a Web UI to drive them.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flags.Debug {
			logutil.SetLevel(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func Execute() {
	if err, _ := event.Trigger(eventType.ProcessStart, event.M{}); err != nil {
		slog.Error("Something went wrong during process start.", slog.Any("error", err))
		os.Exit(1)
	}
	err := RootCmd.Execute()
	event.Trigger(eventType.ProcessExit, event.M{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	exe, _ := os.Executable()
	env, err := LoadEnv(os.LookupEnv, exe)
	if err != nil {
		slog.Warn("Ignoring invalid environment.", slog.Any("error", err))
	}
	// 设置命令行参数，环境变量作为默认值
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", env.Config, "Configuration file path [env: IDLEONWEB_CONFIG]")
	pf.StringVarP(&flags.PluginDir, "plugins-dir", "p", env.PluginDir, "Directory of JS plugins [env: IDLEONWEB_PLUGIN_DIR]")
	pf.StringVarP(&flags.Listen, "listen", "l", env.Listen, "Web UI listen address, loopback only; defaults to webui.port [env: IDLEONWEB_LISTEN]")
	pf.BoolVar(&flags.Debug, "debug", env.Debug, "Debug logging and gin debug mode [env: IDLEONWEB_DEBUG]")
	pf.BoolVar(&flags.Watch, "watch", false, "Reload plugins when files in the plugin directory change")
	pf.BoolVar(&flags.Headless, "headless", false, "Launch the browser without a window")
	flags.Standalone = env.Standalone
}
