package sync

import (
	"context"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

// RemoteRecord is the engine's parsed view of one VTODO on the server.
// It carries exactly the fields the state machine compares; the raw
// record behind it is only ever touched through FetchRaw/UpdateRaw so
// that unrecognized properties survive untouched.
type RemoteRecord struct {
	// UID is the iCalendar UID identifying the record.
	UID string

	// Path is the resource path of the record on the server.
	Path string

	// ETag is the concurrency token from the fetch.
	ETag string

	Summary string
	Due     *time.Time // calendar date, nil when the record has no due
	Status  task.Status

	// LastModified is the record's LAST-MODIFIED stamp (falling back to
	// DTSTAMP, then the transport modification time). Zero when the
	// server provided none.
	LastModified time.Time
}

// RemoteClient is the CalDAV surface the engine drives. Implementations
// tag every returned error with its retry classification (see the retry
// package); the engine never inspects transport details itself.
type RemoteClient interface {
	// Ping verifies the remote collection is reachable and answering.
	//
	// It is called once at the start of every cycle, before any task is
	// processed. An unreachable server aborts the cycle; nothing has
	// been mutated at that point.
	//
	// Example:
	//   if err := client.Ping(ctx); err != nil {
	//       return err // cycle aborted
	//   }
	Ping(ctx context.Context) error

	// FetchAll returns every task record in the collection, in server
	// order. The engine builds its UID index and its reconciliation
	// candidates from this single snapshot.
	FetchAll(ctx context.Context) ([]*RemoteRecord, error)

	// FetchRaw returns the record's full iCalendar source, byte-exact.
	// The engine patches this text rather than regenerating it so that
	// fields other clients wrote are preserved.
	FetchRaw(ctx context.Context, uid string) (string, error)

	// Create writes a brand-new minimal record for a local task and
	// returns its identity, path, and concurrency token.
	Create(ctx context.Context, summary string, due *time.Time, status task.Status) (*RemoteRecord, error)

	// UpdateRaw writes a patched record back under an If-Match condition
	// on etag and returns the new concurrency token. A concurrent remote
	// edit surfaces as a permanent (non-retried) conflict error; the next
	// cycle sees the new remote state and handles it properly.
	//
	// Example:
	//   etag, err := client.UpdateRaw(ctx, uid, patched, rec.ETag, rec.Path)
	UpdateRaw(ctx context.Context, uid, raw, etag, path string) (string, error)
}

// Scanner produces the local tasks for one cycle.
type Scanner interface {
	// Scan walks the vault and returns every checkbox task found, in
	// file-walk order. Tasks carry their source position so the writer
	// can apply changes in place.
	Scan(ctx context.Context) ([]*task.Task, error)
}

// LocalWriter applies remote-side content to the vault.
type LocalWriter interface {
	// Apply rewrites the task's markdown line with the given content,
	// keeping local-only decoration (tags, indentation) intact. The
	// in-memory task is updated to match.
	Apply(t *task.Task, summary string, due *time.Time, status task.Status) error

	// AssignID mints a new identity token, writes it onto the task's
	// line, and returns it. This is the only way a local id is ever
	// created.
	AssignID(t *task.Task) (string, error)
}
