// Package ics reads, patches, and builds iCalendar VTODO records at the
// content-line level. Records pass through as ordered raw lines so that
// properties this tool does not own (VALARM blocks, X- extensions,
// CATEGORIES, attachments) survive a rewrite byte-for-byte.
package ics

import (
	"strings"
	"unicode/utf8"
)

// contentLine is one logical iCalendar line. raw holds the original
// bytes including folding and the trailing line terminator, so unknown
// lines serialize back exactly as they arrived.
type contentLine struct {
	raw  string
	name string // upper-cased property name, "" when the line is not a property
}

// Record is an ordered sequence of content lines plus field accessors
// scoped to the first VTODO component. Field operations never look
// inside nested components (a VALARM carries its own SUMMARY).
type Record struct {
	lines []contentLine
}

// Parse splits raw into logical content lines. It is lenient: malformed
// lines are preserved untouched and simply have no property name.
func Parse(raw string) *Record {
	r := &Record{}
	for _, physical := range splitPhysical(raw) {
		if len(r.lines) > 0 && (physical[0] == ' ' || physical[0] == '\t') {
			// folded continuation of the previous logical line
			last := &r.lines[len(r.lines)-1]
			last.raw += physical
			continue
		}
		name, _ := parseNameValue(unfold(physical))
		r.lines = append(r.lines, contentLine{raw: physical, name: name})
	}
	return r
}

// String serializes the record. Lines this package never touched are
// emitted byte-identical to the input.
func (r *Record) String() string {
	var b strings.Builder
	for _, ln := range r.lines {
		b.WriteString(ln.raw)
	}
	return b.String()
}

// HasTodo reports whether the record contains a VTODO component.
func (r *Record) HasTodo() bool {
	_, _, ok := r.todoRange()
	return ok
}

// GetField returns the unfolded value of the first direct-child property
// with the given name inside the VTODO component.
func (r *Record) GetField(name string) (string, bool) {
	idxs := r.fieldIndexes(name)
	if len(idxs) == 0 {
		return "", false
	}
	_, value := parseNameValue(unfold(r.lines[idxs[0]].raw))
	return value, true
}

// CountField returns how many direct-child properties with the given
// name the VTODO component carries.
func (r *Record) CountField(name string) int {
	return len(r.fieldIndexes(name))
}

// SetField replaces the first direct-child occurrence of the property in
// place, or inserts a new line before END:VTODO when absent. nameParams
// may carry parameters ("DUE;VALUE=DATE"); value must already be in wire
// form. Rewritten lines use canonical CRLF folding.
func (r *Record) SetField(nameParams, value string) {
	name := bareName(nameParams)
	line := contentLine{raw: foldLine(nameParams + ":" + value), name: name}

	if idxs := r.fieldIndexes(name); len(idxs) > 0 {
		r.lines[idxs[0]] = line
		return
	}
	_, end, ok := r.todoRange()
	if !ok {
		return
	}
	r.lines = append(r.lines[:end], append([]contentLine{line}, r.lines[end:]...)...)
}

// RemoveField deletes every direct-child occurrence of the property from
// the VTODO component.
func (r *Record) RemoveField(name string) {
	idxs := r.fieldIndexes(strings.ToUpper(name))
	if len(idxs) == 0 {
		return
	}
	drop := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		drop[i] = true
	}
	kept := r.lines[:0]
	for i, ln := range r.lines {
		if !drop[i] {
			kept = append(kept, ln)
		}
	}
	r.lines = kept
}

// todoRange locates the first VTODO component. start is the index of its
// BEGIN line, end the index of the matching END line.
func (r *Record) todoRange() (start, end int, ok bool) {
	start = -1
	depth := 0
	for i, ln := range r.lines {
		value := strings.ToUpper(strings.TrimSpace(lineValue(ln)))
		switch ln.name {
		case "BEGIN":
			if start < 0 {
				if value == "VTODO" {
					start = i
				}
			} else {
				depth++
			}
		case "END":
			if start < 0 {
				continue
			}
			if depth == 0 && value == "VTODO" {
				return start, i, true
			}
			if depth > 0 {
				depth--
			}
		}
	}
	return -1, -1, false
}

// fieldIndexes returns the indexes of direct-child properties with the
// given (bare, upper-case) name, skipping nested component ranges.
func (r *Record) fieldIndexes(name string) []int {
	start, end, ok := r.todoRange()
	if !ok {
		return nil
	}
	var idxs []int
	depth := 0
	for i := start + 1; i < end; i++ {
		ln := r.lines[i]
		switch ln.name {
		case "BEGIN":
			depth++
		case "END":
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 && ln.name == name {
				idxs = append(idxs, i)
			}
		}
	}
	return idxs
}

func lineValue(ln contentLine) string {
	_, value := parseNameValue(unfold(ln.raw))
	return value
}

// splitPhysical splits raw into physical lines, each keeping its own
// terminator. A final unterminated line is returned as-is.
func splitPhysical(raw string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			lines = append(lines, raw[start:i+1])
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}

// unfold joins the physical lines of one logical line, dropping each
// terminator plus exactly one leading whitespace octet per continuation.
func unfold(raw string) string {
	physical := splitPhysical(raw)
	if len(physical) == 1 {
		return strings.TrimRight(physical[0], "\r\n")
	}
	var b strings.Builder
	for i, ln := range physical {
		ln = strings.TrimRight(ln, "\r\n")
		if i > 0 && len(ln) > 0 && (ln[0] == ' ' || ln[0] == '\t') {
			ln = ln[1:]
		}
		b.WriteString(ln)
	}
	return b.String()
}

// parseNameValue splits an unfolded content line into its upper-cased
// property name and raw value. The colon search respects quoted
// parameter values.
func parseNameValue(line string) (name, value string) {
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if !inQuotes {
				return bareName(line[:i]), line[i+1:]
			}
		}
	}
	return "", ""
}

// bareName strips parameters and upper-cases a property name.
func bareName(nameParams string) string {
	if i := strings.IndexByte(nameParams, ';'); i >= 0 {
		nameParams = nameParams[:i]
	}
	return strings.ToUpper(strings.TrimSpace(nameParams))
}

// foldLine emits a content line folded at 75 octets with CRLF
// terminators, cutting only at rune boundaries.
func foldLine(line string) string {
	const limit = 75
	var b strings.Builder
	for first := true; ; first = false {
		max := limit
		if !first {
			b.WriteString("\r\n ")
			max = limit - 1
		}
		if len(line) <= max {
			b.WriteString(line)
			break
		}
		cut := max
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		b.WriteString(line[:cut])
		line = line[cut:]
	}
	b.WriteString("\r\n")
	return b.String()
}
