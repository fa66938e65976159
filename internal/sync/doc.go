// Package sync implements the synchronization engine between a markdown
// task vault and a CalDAV task collection.
//
// # Overview
//
// The engine runs in cycles. Each cycle scans the vault for checkbox
// tasks, fetches the remote VTODO collection, and walks every local task
// through a per-task state machine. Mappings persisted between cycles
// (local identity token ↔ remote UID, plus last-known fingerprints,
// modification markers, and the remote concurrency token) are what turn
// the two snapshots into change decisions.
//
// # Architecture
//
//	┌──────────┐   Scan    ┌──────────────────┐  FetchAll   ┌──────────┐
//	│ markdown │──────────▶│                  │◀────────────│  CalDAV  │
//	│  vault   │           │   sync engine    │             │  server  │
//	│          │◀──────────│   (per cycle)    │────────────▶│          │
//	└──────────┘   Apply   │                  │ patch + PUT └──────────┘
//	                       └────────┬─────────┘
//	                                │ Get / Put
//	                         ┌──────▼──────┐
//	                         │  mapping    │
//	                         │  store      │
//	                         └─────────────┘
//
// Per task, the state machine distinguishes:
//
//   - Untracked: no mapping. The engine first tries to reconcile against
//     an unmapped remote record with the same summary (case-insensitive);
//     only when none exists does it create a new remote record.
//   - Unchanged on both sides: a defensive content comparison catches
//     silent drift and forces the local state out when it disagrees.
//   - Changed locally: the remote record is fetched raw, patched field by
//     field, and written back under an If-Match condition. Properties the
//     engine does not own (alarms, categories, extension fields) survive
//     byte-for-byte.
//   - Changed remotely: the new summary, due date, and status are written
//     into the markdown line in place.
//   - Changed on both sides: a timestamp comparison picks the winner;
//     ties keep the local version. The loser's content is overwritten,
//     never merged.
//   - Gone remotely: the task is skipped with a warning. Deletion never
//     propagates automatically.
//
// # Failure Handling
//
// The engine is resilient: individual task failures are recorded in the
// cycle report and the cycle continues with the next task. Only two
// failures abort a whole cycle, both before any mutation: the remote
// store being unreachable, and the initial collection fetch failing.
// Remote calls run under the retry executor, so transient network errors
// and rate limits are absorbed before they ever count as failures.
//
// # Usage
//
//	st, err := store.Open(".taskdav/mappings.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	engine, err := sync.New(sync.Config{
//	    Store:    st,
//	    Remote:   client,   // caldav.Client
//	    Scanner:  scanner,  // scanner.Scanner
//	    Writer:   writer,   // scanner.Writer
//	    Executor: retry.NewExecutor(retry.DefaultConfig(), nil),
//	})
//	if err != nil {
//	    return err
//	}
//
//	report, err := engine.RunCycle(ctx)
//	if err != nil {
//	    return err // cycle aborted; no report to show
//	}
//	fmt.Println(report.Summary())
//
// Cycles are strictly sequential: the engine holds no locks and expects
// exactly one RunCycle in flight.
package sync
