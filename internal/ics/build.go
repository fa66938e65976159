package ics

import (
	"strings"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

// prodID identifies records this tool creates. Servers keep it verbatim,
// which makes taskdav-created records recognizable in debugging.
const prodID = "-//taskdav//taskdav//EN"

// NewTodo builds the minimal VCALENDAR/VTODO record used when a local
// task is pushed to the remote store for the first time.
func NewTodo(uid, description string, due *time.Time, status task.Status, now time.Time) string {
	stamp := FormatDateTime(now)

	var b strings.Builder
	write := func(nameParams, value string) {
		b.WriteString(foldLine(nameParams + ":" + value))
	}
	write("BEGIN", "VCALENDAR")
	write("VERSION", "2.0")
	write("PRODID", prodID)
	write("BEGIN", "VTODO")
	write("UID", uid)
	write("DTSTAMP", stamp)
	write("SUMMARY", EscapeText(description))
	if due != nil {
		write("DUE;VALUE=DATE", FormatDate(*due))
	}
	write("STATUS", StatusToWire(status))
	write("LAST-MODIFIED", stamp)
	write("END", "VTODO")
	write("END", "VCALENDAR")
	return b.String()
}
