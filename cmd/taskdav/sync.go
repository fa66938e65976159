package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/logging"
	"github.com/taskdav/taskdav/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Run a single sync cycle against the configured CalDAV server.

A cycle:
  1. Scans the vault for checkbox tasks
  2. Pushes local creations and edits to the server
  3. Pulls remote edits back into the markdown files
  4. Records the reconciled state for the next cycle

The exit code is 0 only when every task synced cleanly.`,
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

		report, err := engine.RunCycle(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		out := ui.NewRenderer(os.Stdout, ui.DetectColor())
		out.Report(report)
		if !report.Ok() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
