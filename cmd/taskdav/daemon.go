package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/daemon"
	"github.com/taskdav/taskdav/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous sync in the foreground",
	Long: `Run the sync daemon until interrupted.

The daemon:
  1. Runs a sync cycle immediately on start
  2. Repeats every sync.interval
  3. When sync.watch is on, also runs a cycle after vault edits have
     settled for sync.debounce

Logs go to stderr, plus the rotating file in log.file when set.
Stopping with Ctrl+C lets an in-flight cycle finish first.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		lock, err := acquireLock(cfg.State.Dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = lock.Unlock() }()

		logw, logc := logging.Writer(os.Stderr, logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		defer logc.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		engine, st, err := buildEngine(ctx, cfg, logw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		d, err := daemon.New(engine, cfg.Vault.Dir, &daemon.Config{
			Interval: cfg.Sync.Interval,
			Watch:    cfg.Sync.Watch,
			Debounce: cfg.Sync.Debounce,
			Logger:   logging.New(logw, "daemon"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Starting taskdav daemon\n")
		fmt.Printf("   Vault: %s\n", cfg.Vault.Dir)
		fmt.Printf("   Server: %s\n", cfg.Server.URL)
		fmt.Printf("   Interval: %v\n", cfg.Sync.Interval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
