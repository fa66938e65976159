package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Create the taskdav config file through a short interactive form.

Prompts for the CalDAV server, credentials, calendar, and vault
location, then writes the result to --config or the default path with
every other setting at its default. Refuses to overwrite an existing
file unless --force is set.

The password is optional: leave it empty and set server.password_cmd
in the written file to read it from a secret manager instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}

		if !initForce {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
				os.Exit(1)
			}
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "Error: init is interactive and needs a terminal\n")
			os.Exit(1)
		}

		cfg := config.Default()
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("CalDAV server URL").
					Placeholder("https://dav.example.com").
					Validate(validServerURL).
					Value(&cfg.Server.URL),
				huh.NewInput().
					Title("Username").
					Value(&cfg.Server.Username),
				huh.NewInput().
					Title("Password").
					Description("Optional; leave empty to use password_cmd").
					EchoMode(huh.EchoModePassword).
					Value(&cfg.Server.Password),
				huh.NewInput().
					Title("Calendar").
					Description("Display name of the task calendar; empty picks the first one that accepts tasks").
					Value(&cfg.Server.Calendar),
				huh.NewInput().
					Title("Vault directory").
					Placeholder("~/vault").
					Validate(notEmpty).
					Value(&cfg.Vault.Dir),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(os.Stderr, "Aborted")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := ui.NewRenderer(os.Stdout, ui.DetectColor())
		out.Successf("Wrote %s", path)
		fmt.Printf("   Run 'taskdav sync' to try it out\n")
	},
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("required")
	}
	return nil
}

func validServerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
