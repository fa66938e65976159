package sync

import (
	"fmt"
	"strings"
	"time"
)

// TaskFailure records one task the cycle could not sync. The cycle
// itself continues; failed tasks are retried naturally on the next run.
type TaskFailure struct {
	Task string // task description
	File string // vault file the task lives in
	Err  error
}

// Report summarizes one sync cycle.
type Report struct {
	Started  time.Time
	Duration time.Duration

	// Scanned counts every checkbox task found in the vault; Filtered
	// counts how many the filter gate kept out of the cycle.
	Scanned  int
	Filtered int

	// RemoteRecords is the size of the fetched remote collection.
	RemoteRecords int

	Created      int // new remote records pushed for untracked tasks
	Reconciled   int // untracked tasks paired to existing remote records
	Pushed       int // local-only changes written to the server
	Pulled       int // remote-only changes written to the vault
	Conflicts    int // both-sides changes settled by the resolver
	ForcedPushes int // drift repairs from the defensive content check
	Unchanged    int
	Orphaned     int // mapped tasks whose remote record disappeared

	Failures []TaskFailure
}

// Ok reports whether every task in the cycle synced cleanly.
func (r *Report) Ok() bool {
	return len(r.Failures) == 0
}

// Changed reports whether the cycle wrote anything on either side.
func (r *Report) Changed() bool {
	return r.Created+r.Reconciled+r.Pushed+r.Pulled+r.Conflicts+r.ForcedPushes > 0
}

// Summary renders a single-line account of the cycle for logs.
func (r *Report) Summary() string {
	parts := []string{
		fmt.Sprintf("scanned=%d", r.Scanned),
		fmt.Sprintf("remote=%d", r.RemoteRecords),
	}
	add := func(name string, n int) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", name, n))
		}
	}
	add("filtered", r.Filtered)
	add("created", r.Created)
	add("reconciled", r.Reconciled)
	add("pushed", r.Pushed)
	add("pulled", r.Pulled)
	add("conflicts", r.Conflicts)
	add("forced", r.ForcedPushes)
	add("orphaned", r.Orphaned)
	add("failed", len(r.Failures))
	parts = append(parts, fmt.Sprintf("unchanged=%d", r.Unchanged))
	parts = append(parts, fmt.Sprintf("took=%s", r.Duration.Round(time.Millisecond)))
	return strings.Join(parts, " ")
}
