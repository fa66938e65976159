package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/logging"
	"github.com/taskdav/taskdav/internal/scanner"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and local sync state",
	Long: `Display the active configuration and the local mapping store.

Shows:
  - Vault and server the configuration points at
  - Mapping store location, entry count, and size
  - Last successful reconciliation time

Everything comes from local state; no network traffic.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := ui.NewRenderer(os.Stdout, ui.DetectColor())

		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}
		calendar := cfg.Server.Calendar
		if calendar == "" {
			calendar = "(first task calendar)"
		}
		watch := "off"
		if cfg.Sync.Watch {
			watch = fmt.Sprintf("on, debounce %v", cfg.Sync.Debounce)
		}

		out.Header("Configuration")
		out.Field("Config", path)
		out.Field("Vault", cfg.Vault.Dir)
		out.Field("Server", cfg.Server.URL)
		out.Field("Calendar", calendar)
		out.Field("Interval", cfg.Sync.Interval.String())
		out.Field("Watch", watch)
		fmt.Println()

		dbPath := mappingsPath(cfg)
		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			out.Warnf("No sync state yet")
			fmt.Printf("   Run 'taskdav sync' to create it\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking state: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening mapping store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		count, err := st.Count()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading mapping store: %v\n", err)
			os.Exit(1)
		}
		last, err := st.LastSyncTime()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading mapping store: %v\n", err)
			os.Exit(1)
		}
		lastStr := "never"
		if !last.IsZero() {
			lastStr = last.Local().Format("2006-01-02 15:04:05")
		}

		out.Header("Sync state")
		out.Field("Store", dbPath)
		out.Field("Size", formatSize(info.Size()))
		out.Field("Mappings", strconv.Itoa(count))
		out.Field("Last sync", lastStr)

		if orphans := countOrphans(cfg, st); orphans > 0 {
			fmt.Println()
			out.Warnf("%d mappings point at tasks missing from the vault", orphans)
		}
	},
}

// countOrphans scans the vault and counts mappings whose task id no
// longer appears in any file. Best effort: a scan failure reports zero
// rather than failing status.
func countOrphans(cfg *config.Config, st *store.Store) int {
	tasks, err := scanner.New(cfg.Vault.Dir, cfg.Vault.Ignore, logging.New(io.Discard, "scanner")).Scan(context.Background())
	if err != nil {
		return 0
	}
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID != "" {
			seen[t.ID] = true
		}
	}
	mappings, err := st.All()
	if err != nil {
		return 0
	}
	orphans := 0
	for _, m := range mappings {
		if !seen[m.LocalID] {
			orphans++
		}
	}
	return orphans
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
