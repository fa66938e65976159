package ics

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

// Patch rewrites the owned fields of a raw VTODO record with the given
// local content and returns the full serialized record. Owned fields are
// SUMMARY, STATUS, DUE, LAST-MODIFIED, and DTSTAMP; every other line in
// the record is preserved byte-for-byte. A nil due removes the DUE
// property entirely.
//
// After patching, the record is self-checked for structural sanity
// (exactly one UID, SUMMARY, and STATUS, at most one DUE). A failed
// check logs a warning but still returns the patch: the server is the
// better judge of what it accepts.
func Patch(raw, description string, due *time.Time, status task.Status, now time.Time, logger *log.Logger) (string, error) {
	rec := Parse(raw)
	if !rec.HasTodo() {
		return "", fmt.Errorf("record has no VTODO component")
	}

	rec.SetField("SUMMARY", EscapeText(description))
	rec.SetField("STATUS", StatusToWire(status))
	if due != nil {
		rec.SetField("DUE;VALUE=DATE", FormatDate(*due))
	} else {
		rec.RemoveField("DUE")
	}
	stamp := FormatDateTime(now)
	rec.SetField("LAST-MODIFIED", stamp)
	rec.SetField("DTSTAMP", stamp)

	if problems := selfCheck(rec); len(problems) > 0 {
		if logger != nil {
			logger.Printf("WARNING: patched record failed structural check (%s), sending anyway", strings.Join(problems, "; "))
		}
	}
	return rec.String(), nil
}

// selfCheck verifies the patched component still looks like a single
// well-formed task.
func selfCheck(rec *Record) []string {
	var problems []string
	if n := rec.CountField("UID"); n != 1 {
		problems = append(problems, fmt.Sprintf("%d UID fields", n))
	}
	if n := rec.CountField("SUMMARY"); n != 1 {
		problems = append(problems, fmt.Sprintf("%d SUMMARY fields", n))
	}
	if n := rec.CountField("STATUS"); n != 1 {
		problems = append(problems, fmt.Sprintf("%d STATUS fields", n))
	}
	if n := rec.CountField("DUE"); n > 1 {
		problems = append(problems, fmt.Sprintf("%d DUE fields", n))
	}
	return problems
}
