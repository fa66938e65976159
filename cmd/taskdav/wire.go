package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/taskdav/taskdav/internal/caldav"
	"github.com/taskdav/taskdav/internal/config"
	"github.com/taskdav/taskdav/internal/filter"
	"github.com/taskdav/taskdav/internal/logging"
	"github.com/taskdav/taskdav/internal/retry"
	"github.com/taskdav/taskdav/internal/scanner"
	"github.com/taskdav/taskdav/internal/store"
	tasksync "github.com/taskdav/taskdav/internal/sync"
)

// mappingsPath is where the mapping store lives under the state dir.
func mappingsPath(cfg *config.Config) string {
	return filepath.Join(cfg.State.Dir, "mappings.db")
}

// acquireLock takes the single-instance lock under the state dir so
// concurrent syncs cannot corrupt mappings or race on vault writes.
func acquireLock(stateDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := flock.New(filepath.Join(stateDir, ".sync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another sync is in progress")
	}
	return lock, nil
}

// buildEngine wires every cycle collaborator from cfg. The caller
// closes the returned store when done.
func buildEngine(ctx context.Context, cfg *config.Config, logw io.Writer) (*tasksync.Engine, *store.Store, error) {
	password, err := cfg.ResolvePassword(ctx)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(mappingsPath(cfg))
	if err != nil {
		return nil, nil, err
	}

	remote, err := caldav.New(caldav.Config{
		Endpoint: cfg.Server.URL,
		Username: cfg.Server.Username,
		Password: password,
		Calendar: cfg.Server.Calendar,
		Timeout:  cfg.Server.Timeout,
		Logger:   logging.New(logw, "caldav"),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	engine, err := tasksync.New(tasksync.Config{
		Store:    st,
		Remote:   remote,
		Scanner:  scanner.New(cfg.Vault.Dir, cfg.Vault.Ignore, logging.New(logw, "scanner")),
		Writer:   scanner.NewWriter(cfg.Vault.Dir, logging.New(logw, "scanner")),
		Executor: retry.NewExecutor(retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialDelay:   cfg.Retry.InitialDelay,
			Multiplier:     cfg.Retry.Multiplier,
			MaxDelay:       cfg.Retry.MaxDelay,
			RateLimitDelay: cfg.Retry.RateLimitDelay,
		}, logging.New(logw, "retry")),
		Filter: filter.New(filter.Options{
			Folders:         cfg.Filter.Folders,
			ExcludeFolders:  cfg.Filter.ExcludeFolders,
			RequireTags:     cfg.Filter.RequireTags,
			ExcludeTags:     cfg.Filter.ExcludeTags,
			MaxCompletedAge: cfg.Filter.MaxCompletedAge,
		}),
		Logger: logging.New(logw, "sync"),
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	return engine, st, nil
}
