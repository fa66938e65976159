package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/ui"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Export and import the local mapping store",
}

var mappingsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export mappings as JSONL",
	Long: `Write every task mapping to a file, one JSON object per line.

The export pairs with 'mappings import' for moving sync state between
machines or backing it up before risky vault surgery.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		dbPath := mappingsPath(cfg)
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error: no sync state at %s (run 'taskdav sync' first)\n", dbPath)
			os.Exit(1)
		}

		st, err := store.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening mapping store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		count, err := st.ExportJSONL(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := ui.NewRenderer(os.Stdout, ui.DetectColor())
		out.Successf("Exported %d mappings to %s", count, args[0])
	},
}

var mappingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import mappings from JSONL",
	Long: `Read mappings written by 'mappings export' back into the store.

Existing mappings with the same local id are replaced. The import
stops at the first malformed record; nothing about the vault or the
server changes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(mappingsPath(cfg))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening mapping store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		count, err := st.ImportJSONL(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := ui.NewRenderer(os.Stdout, ui.DetectColor())
		out.Successf("Imported %d mappings", count)
	},
}

func init() {
	mappingsCmd.AddCommand(mappingsExportCmd)
	mappingsCmd.AddCommand(mappingsImportCmd)
	rootCmd.AddCommand(mappingsCmd)
}
