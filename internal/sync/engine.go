package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/ics"
	"github.com/taskdav/taskdav/internal/retry"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/task"
)

// Config assembles the engine's collaborators.
type Config struct {
	Store    *store.Store
	Remote   RemoteClient
	Scanner  Scanner
	Writer   LocalWriter
	Executor *retry.Executor

	// Filter keeps a task in the cycle when it returns true. Nil syncs
	// every scanned task.
	Filter func(*task.Task) bool

	// Logger defaults to stderr when nil.
	Logger *log.Logger

	// Now is the clock used for change-detection stamps. Defaults to
	// time.Now.
	Now func() time.Time
}

// Engine runs sync cycles. It holds no locks and supports exactly one
// RunCycle in flight; callers serialize cycles themselves.
type Engine struct {
	store   *store.Store
	remote  RemoteClient
	scanner Scanner
	writer  LocalWriter
	exec    *retry.Executor
	filter  func(*task.Task) bool
	logger  *log.Logger
	now     func() time.Time
}

// New creates an Engine from cfg. Store, Remote, Scanner, Writer, and
// Executor are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("retry executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:   cfg.Store,
		remote:  cfg.Remote,
		scanner: cfg.Scanner,
		writer:  cfg.Writer,
		exec:    cfg.Executor,
		filter:  cfg.Filter,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// RunCycle executes one full synchronization cycle.
//
// The returned error is non-nil when the cycle aborted before any task
// was processed (remote unreachable, vault unreadable, collection fetch
// failed) or when ctx was canceled mid-cycle. Per-task failures land in
// the report instead and the cycle continues past them.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	started := e.now()
	report := &Report{Started: started}

	// Connectivity gate: nothing on either side is mutated until the
	// server has answered once.
	if err := e.exec.Do(ctx, "connectivity probe", e.remote.Ping); err != nil {
		return nil, fmt.Errorf("remote store unreachable, cycle aborted: %w", err)
	}

	tasks, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault, cycle aborted: %w", err)
	}
	report.Scanned = len(tasks)

	if e.filter != nil {
		kept := make([]*task.Task, 0, len(tasks))
		for _, t := range tasks {
			if e.filter(t) {
				kept = append(kept, t)
			} else {
				report.Filtered++
			}
		}
		tasks = kept
	}

	var records []*RemoteRecord
	err = e.exec.Do(ctx, "fetch collection", func(ctx context.Context) error {
		var ferr error
		records, ferr = e.remote.FetchAll(ctx)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote collection, cycle aborted: %w", err)
	}
	report.RemoteRecords = len(records)

	byUID := make(map[string]*RemoteRecord, len(records))
	for _, rec := range records {
		byUID[rec.UID] = rec
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			report.Duration = e.now().Sub(started)
			return report, ctx.Err()
		}
		if err := e.syncTask(ctx, t, records, byUID, report); err != nil {
			report.Failures = append(report.Failures, TaskFailure{Task: t.Description, File: t.File, Err: err})
			e.logger.Printf("WARNING: failed to sync %q: %v", t.Description, err)
		}
	}

	report.Duration = e.now().Sub(started)
	e.logger.Printf("Cycle complete: %s", report.Summary())
	return report, nil
}

// syncTask walks one task through the state machine.
func (e *Engine) syncTask(ctx context.Context, t *task.Task, records []*RemoteRecord, byUID map[string]*RemoteRecord, report *Report) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	var m *store.Mapping
	if t.ID != "" {
		var err error
		m, err = e.store.GetContext(ctx, t.ID)
		if err != nil {
			return err
		}
	}
	if m == nil {
		return e.syncUntracked(ctx, t, records, report)
	}

	rec, ok := byUID[m.RemoteUID]
	if !ok {
		e.logger.Printf("WARNING: remote record %s for %q is gone; skipping, will not recreate or delete", m.RemoteUID, t.Description)
		report.Orphaned++
		return nil
	}

	localChanged := t.Fingerprint() != m.Fingerprint
	remoteChanged := rec.ETag != m.ETag

	switch {
	case !localChanged && !remoteChanged:
		return e.verifyUnchanged(ctx, t, m, rec, report)

	case localChanged && !remoteChanged:
		if err := e.push(ctx, t, m, rec, e.now()); err != nil {
			return err
		}
		report.Pushed++
		e.logger.Printf("Pushed local change: %q", t.Description)
		return nil

	case !localChanged && remoteChanged:
		if err := e.pull(ctx, t, m, rec); err != nil {
			return err
		}
		report.Pulled++
		e.logger.Printf("Pulled remote change: %q", t.Description)
		return nil

	default:
		detected := e.now()
		res := Resolve(detected, rec.LastModified)
		report.Conflicts++
		e.logger.Printf("Conflict on %q: %s wins (%s)", t.Description, res.Winner, res.Reason)
		if res.Winner == WinnerRemote {
			return e.pull(ctx, t, m, rec)
		}
		return e.push(ctx, t, m, rec, detected)
	}
}

// syncUntracked handles a task with no mapping: pair it with an existing
// unmapped remote record of the same summary, or push a new record.
func (e *Engine) syncUntracked(ctx context.Context, t *task.Task, records []*RemoteRecord, report *Report) error {
	match, err := e.findReconcileCandidate(ctx, t, records)
	if err != nil {
		return err
	}

	if match != nil {
		if err := e.ensureID(t); err != nil {
			return err
		}
		now := e.now()
		m := &store.Mapping{
			LocalID:        t.ID,
			RemoteUID:      match.UID,
			RemotePath:     match.Path,
			ETag:           match.ETag,
			Fingerprint:    t.Fingerprint(),
			LocalModified:  now,
			RemoteModified: match.LastModified,
			LastSynced:     now,
		}
		if err := e.store.PutContext(ctx, m); err != nil {
			return err
		}
		report.Reconciled++
		e.logger.Printf("Reconciled %q with existing remote record %s", t.Description, match.UID)
		return nil
	}

	var created *RemoteRecord
	err = e.exec.Do(ctx, "create record", func(ctx context.Context) error {
		var cerr error
		created, cerr = e.remote.Create(ctx, t.Description, t.Due, t.Status)
		return cerr
	})
	if err != nil {
		return fmt.Errorf("failed to create remote record: %w", err)
	}

	if err := e.ensureID(t); err != nil {
		return err
	}
	now := e.now()
	m := &store.Mapping{
		LocalID:        t.ID,
		RemoteUID:      created.UID,
		RemotePath:     created.Path,
		ETag:           created.ETag,
		Fingerprint:    t.Fingerprint(),
		LocalModified:  now,
		RemoteModified: created.LastModified,
		LastSynced:     now,
	}
	if err := e.store.PutContext(ctx, m); err != nil {
		return err
	}
	report.Created++
	e.logger.Printf("Created remote record %s for %q", created.UID, t.Description)
	return nil
}

// findReconcileCandidate returns the first fetch-order record whose
// summary equals the task's description case-insensitively and whose uid
// is not already paired to another local task.
func (e *Engine) findReconcileCandidate(ctx context.Context, t *task.Task, records []*RemoteRecord) (*RemoteRecord, error) {
	for _, rec := range records {
		if !strings.EqualFold(rec.Summary, t.Description) {
			continue
		}
		existing, err := e.store.GetByRemoteUIDContext(ctx, rec.UID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		return rec, nil
	}
	return nil, nil
}

// verifyUnchanged double-checks that a task reported unchanged on both
// sides actually matches its remote record. Drift means the bookkeeping
// lied (a restored backup, a client that does not bump ETags); the local
// content is pushed out as ground truth.
func (e *Engine) verifyUnchanged(ctx context.Context, t *task.Task, m *store.Mapping, rec *RemoteRecord, report *Report) error {
	if t.Description == rec.Summary &&
		task.DueString(t.Due) == task.DueString(rec.Due) &&
		t.Status == rec.Status {
		report.Unchanged++
		return nil
	}

	e.logger.Printf("WARNING: %q drifted from its remote record with no change detected; forcing local content", t.Description)
	if err := e.push(ctx, t, m, rec, e.now()); err != nil {
		return err
	}
	report.ForcedPushes++
	return nil
}

// push sends the task's content to the server: fetch the raw record,
// patch only the owned fields, write it back conditionally, then update
// the mapping so the next cycle sees the push as already-synced.
func (e *Engine) push(ctx context.Context, t *task.Task, m *store.Mapping, rec *RemoteRecord, detected time.Time) error {
	var raw string
	err := e.exec.Do(ctx, "fetch record", func(ctx context.Context) error {
		var ferr error
		raw, ferr = e.remote.FetchRaw(ctx, m.RemoteUID)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("failed to fetch record %s: %w", m.RemoteUID, err)
	}

	stamp := detected.UTC().Truncate(time.Second)
	patched, err := ics.Patch(raw, t.Description, t.Due, t.Status, stamp, e.logger)
	if err != nil {
		return fmt.Errorf("failed to patch record %s: %w", m.RemoteUID, err)
	}

	var etag string
	err = e.exec.Do(ctx, "update record", func(ctx context.Context) error {
		var uerr error
		etag, uerr = e.remote.UpdateRaw(ctx, m.RemoteUID, patched, rec.ETag, rec.Path)
		return uerr
	})
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", m.RemoteUID, err)
	}

	m.ETag = etag
	m.RemotePath = rec.Path
	m.Fingerprint = t.Fingerprint()
	m.LocalModified = detected
	m.RemoteModified = stamp
	m.LastSynced = e.now()
	return e.store.PutContext(ctx, m)
}

// pull writes the remote record's content into the vault and updates the
// mapping to the remote's markers.
func (e *Engine) pull(ctx context.Context, t *task.Task, m *store.Mapping, rec *RemoteRecord) error {
	if err := e.writer.Apply(t, rec.Summary, rec.Due, rec.Status); err != nil {
		return fmt.Errorf("failed to write remote change: %w", err)
	}

	now := e.now()
	m.ETag = rec.ETag
	m.RemotePath = rec.Path
	m.Fingerprint = task.Fingerprint(rec.Summary, task.DueString(rec.Due), rec.Status)
	m.LocalModified = now
	m.RemoteModified = rec.LastModified
	m.LastSynced = now
	return e.store.PutContext(ctx, m)
}

// ensureID assigns a local identity token if the task has none yet.
func (e *Engine) ensureID(t *task.Task) error {
	if t.ID != "" {
		return nil
	}
	id, err := e.writer.AssignID(t)
	if err != nil {
		return fmt.Errorf("failed to assign task id: %w", err)
	}
	t.ID = id
	return nil
}
