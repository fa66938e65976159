// Package task defines the local task model shared by the scanner,
// the sync engine, and the CalDAV client.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the completion state of a task. Local tasks only distinguish
// open from completed; richer remote states (IN-PROCESS, CANCELLED) are
// collapsed to open at the wire boundary.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
)

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	return s == StatusOpen || s == StatusCompleted
}

// Task represents a single checkbox task parsed from a markdown vault.
// The content fields (Description, Due, Status) are what synchronization
// compares; the remaining fields are local bookkeeping and never leave
// the machine.
type Task struct {
	// ID is the short hex identity token (🆔 marker). Empty until the
	// writer assigns one during the first sync of the task.
	ID string

	// ===== Synchronized Content =====
	Description string
	Due         *time.Time // calendar date, normalized to 00:00:00 UTC
	Status      Status

	// ===== Local-Only Metadata =====
	Tags []string

	// ===== Source Position =====
	File   string // path relative to the vault root
	Line   int    // zero-based line index within File
	Indent string // leading whitespace of the source line
	Raw    string // source line as scanned, without trailing newline

	// SyncDisabled is set by the scanner when a folder options file
	// opts the task out of synchronization.
	SyncDisabled bool
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(t.Description) > 1000 {
		return fmt.Errorf("description must be 1000 characters or less (got %d)", len(t.Description))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	return nil
}

// DueString returns the canonical YYYY-MM-DD form of a due date, or the
// empty string when due is nil. This is the form fingerprints and wire
// conversions agree on.
func DueString(due *time.Time) string {
	if due == nil {
		return ""
	}
	return due.Format("2006-01-02")
}

// NormalizeDue truncates a timestamp to its calendar date at midnight UTC.
// Due dates carry no time-of-day or zone on either side of a sync.
func NormalizeDue(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Fingerprint computes the content fingerprint over the three synchronized
// fields in their canonical string forms. Tasks that differ only in tags,
// file position, or formatting hash identically.
func Fingerprint(description, due string, status Status) string {
	h := sha256.Sum256([]byte(description + "\n" + due + "\n" + string(status)))
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the content fingerprint of the task.
func (t *Task) Fingerprint() string {
	return Fingerprint(t.Description, DueString(t.Due), t.Status)
}
