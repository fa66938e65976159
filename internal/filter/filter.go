// Package filter builds the task predicate applied before tasks enter
// a sync cycle. The zero Options keep everything except tasks whose
// folder options disable sync.
package filter

import (
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

// Options select which scanned tasks take part in a cycle.
type Options struct {
	// Folders keeps only tasks under one of these vault-relative
	// folders. Empty keeps every folder.
	Folders []string

	// ExcludeFolders drops tasks under any of these folders, applied
	// after Folders.
	ExcludeFolders []string

	// RequireTags keeps only tasks carrying at least one of these
	// tags.
	RequireTags []string

	// ExcludeTags drops tasks carrying any of these tags. Exclusion
	// wins over RequireTags.
	ExcludeTags []string

	// MaxCompletedAge drops completed tasks whose due date lies
	// further back than this. Zero keeps completed tasks forever;
	// completed tasks without a due date are always kept.
	MaxCompletedAge time.Duration

	// Now is the clock for the age check. Defaults to time.Now.
	Now func() time.Time
}

// New composes the predicate. A true return keeps the task in the
// cycle.
func New(opts Options) func(*task.Task) bool {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	folders := normalizeFolders(opts.Folders)
	excluded := normalizeFolders(opts.ExcludeFolders)

	return func(t *task.Task) bool {
		if t.SyncDisabled {
			return false
		}
		if len(folders) > 0 && !underAny(t.File, folders) {
			return false
		}
		if underAny(t.File, excluded) {
			return false
		}
		if hasAny(t.Tags, opts.ExcludeTags) {
			return false
		}
		if len(opts.RequireTags) > 0 && !hasAny(t.Tags, opts.RequireTags) {
			return false
		}
		if opts.MaxCompletedAge > 0 && t.Status == task.StatusCompleted && t.Due != nil {
			if now().Sub(*t.Due) > opts.MaxCompletedAge {
				return false
			}
		}
		return true
	}
}

func normalizeFolders(folders []string) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		f = strings.Trim(strings.ReplaceAll(f, "\\", "/"), "/")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// underAny matches vault-relative file paths against folder prefixes.
// "Work" covers "Work/notes.md" and deeper, never "Workout/x.md".
func underAny(file string, folders []string) bool {
	for _, f := range folders {
		if file == f || strings.HasPrefix(file, f+"/") {
			return true
		}
	}
	return false
}

func hasAny(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}
