package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/taskdav/taskdav/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "taskdav",
	Short: "Sync markdown vault tasks with a CalDAV server",
	Long: `taskdav keeps checkbox tasks in a markdown vault and VTODOs on a
CalDAV server in step, in both directions.

Tasks are plain markdown list items:
  - [ ] Call the landlord @due(2026-03-01) #home
  - [x] File taxes

taskdav assigns each synced task a short identity token, mirrors it to
the server, and reconciles edits from either side on every cycle. Run
'taskdav init' to create a config, then 'taskdav sync' for a single
cycle or 'taskdav daemon' for continuous sync.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"config file (default "+config.DefaultPath()+")")
}

// loadConfig reads and validates the configuration for commands that
// need a working setup.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
