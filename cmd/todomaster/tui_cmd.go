package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/fentz26/todomaster/internal/config"
	"github.com/fentz26/todomaster/internal/docstore"
	"github.com/fentz26/todomaster/internal/logging"
	"github.com/fentz26/todomaster/internal/taskstore"
	"github.com/fentz26/todomaster/internal/tui"
)

var tuiDemo bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	RunE:  runTUI,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, tuiCmd} {
		c.Flags().BoolVar(&tuiDemo, "demo", false, "start the memory store with the demo task list")
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	logger, closer, err := logging.NewFile(cfg.LogFile(), logging.Options{Name: "todomaster", Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer closer.Close()

	// 1. Check if Daemon is running
	if cfg.Mode == config.ModeRemote {
		if err := ensureDaemon(cmd.Context(), cfg.Server.Address); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// 2. Launch TUI
	demo := cfg.Demo || tuiDemo
	app := tui.New(storeFactory(cfg, demo, logger), logger)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// storeFactory returns the store constructor for the configured mode. Every
// call builds a fresh store, so a retry after a load failure reconnects.
func storeFactory(cfg *config.Config, demo bool, logger hclog.Logger) tui.StoreFactory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func() (taskstore.Store, error) {
		switch cfg.Mode {
		case config.ModeRemote:
			client := docstore.NewClient(cfg.Server.Address)
			return taskstore.NewRemote(client, taskstore.WithLogger(logger.Named("remote"))), nil
		case config.ModeMemory:
			var opts []taskstore.MemoryOption
			if demo {
				opts = append(opts, taskstore.WithSeed(taskstore.DemoSeed()...))
			}
			return taskstore.NewMemory(opts...), nil
		default:
			return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
		}
	}
}

func isDaemonRunning(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	ok, err := docstore.NewClient(addr).CheckHealth(ctx)
	return err == nil && ok
}

// ensureDaemon starts "todomaster daemon" in the background when nothing
// answers at addr, and waits for it to become healthy.
func ensureDaemon(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if isDaemonRunning(ctx, addr) {
		return nil
	}

	fmt.Println("⚡ Document store not running. Starting background service...")
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	if err := cmd.Process.Release(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(ctx, addr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", addr)
}
