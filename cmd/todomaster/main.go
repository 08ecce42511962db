package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fentz26/todomaster/internal/config"
	"github.com/fentz26/todomaster/internal/logging"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile string
	cfg     *config.Config
	loader  = config.NewLoader()
)

var rootCmd = &cobra.Command{
	Use:   "todomaster",
	Short: "todomaster - a small task list",
	Long: `todomaster keeps a single task list. It runs purely in memory, or in
remote mode against the todomaster document store daemon, where every
client sees every change live.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		load := loader.Load
		if cmd == configInitCmd {
			load = loader.LoadIfExists
		}
		loaded, err := load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	RunE: runTUI,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ~/.todomaster/config.yaml)")
	flags.String("mode", "", "store mode: memory or remote")
	flags.String("server", "", "document store URL for remote mode")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("data-dir", "", "data directory (default is ~/.todomaster)")

	mustBind("mode", flags.Lookup("mode"))
	mustBind("server.address", flags.Lookup("server"))
	mustBind("log.level", flags.Lookup("log-level"))
	mustBind("data_dir", flags.Lookup("data-dir"))

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func mustBind(key string, flag *pflag.Flag) {
	if err := loader.BindFlag(key, flag); err != nil {
		panic(err)
	}
}

// newLogger builds a stderr logger for non-interactive commands.
func newLogger(name string) hclog.Logger {
	return logging.New(logging.Options{Name: name, Level: cfg.Log.Level})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
