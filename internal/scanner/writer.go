package scanner

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskdav/taskdav/internal/task"
)

// Writer patches single task lines in vault files. Lines it rewrites
// come out in canonical form:
//
//	{indent}- [{ |x}] {description} {#tags...} {📅 date} {🆔 id}
//
// Everything else in the file is written back byte-identical, so a
// rewrite touches exactly one line. Applying the same values twice
// yields identical bytes.
type Writer struct {
	root   string
	parser *lineParser
	logger *log.Logger
}

// NewWriter creates a Writer over the vault rooted at root. If logger is
// nil, a default logger writing to stderr is used.
func NewWriter(root string, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(os.Stderr, "[scanner] ", log.LstdFlags)
	}
	return &Writer{
		root:   filepath.Clean(root),
		parser: newLineParser(),
		logger: logger,
	}
}

// Apply rewrites the task's line with the given content. The line is
// located by its 🆔 token first, falling back to the recorded line index
// when the token is gone (the token is restored on rewrite). Tags and
// indentation are re-read from the file, so tags added by folder options
// never leak into the line. The in-memory task is updated to match.
func (w *Writer) Apply(t *task.Task, summary string, due *time.Time, status task.Status) error {
	path := filepath.Join(w.root, filepath.FromSlash(t.File))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.File, err)
	}

	lines := strings.Split(string(data), "\n")
	idx, parsed := w.locate(lines, t)
	if idx < 0 {
		return fmt.Errorf("cannot locate task %q in %s", t.Description, t.File)
	}
	if t.ID != "" && parsed.ID == "" {
		w.logger.Printf("WARNING: id token %s missing from %s:%d; restoring it", t.ID, t.File, idx+1)
	}

	id := parsed.ID
	if t.ID != "" {
		id = t.ID
	}
	rebuilt := buildLine(parsed.Indent, status, summary, parsed.Tags, due, id)

	if strings.HasSuffix(lines[idx], "\r") {
		lines[idx] = rebuilt + "\r"
	} else {
		lines[idx] = rebuilt
	}
	if err := writeFileAtomic(path, []byte(strings.Join(lines, "\n"))); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.File, err)
	}

	t.Description = summary
	t.Due = due
	t.Status = status
	t.Line = idx
	t.Indent = parsed.Indent
	t.Raw = rebuilt
	return nil
}

// AssignID mints an identity token, appends it to the task's line, and
// returns it. A task that already has an id keeps it; nothing is
// rewritten.
func (w *Writer) AssignID(t *task.Task) (string, error) {
	if t.ID != "" {
		return t.ID, nil
	}

	path := filepath.Join(w.root, filepath.FromSlash(t.File))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", t.File, err)
	}

	lines := strings.Split(string(data), "\n")
	idx, _ := w.locate(lines, t)
	if idx < 0 {
		return "", fmt.Errorf("cannot locate task %q in %s", t.Description, t.File)
	}

	id := uuid.New().String()[:8]
	line := strings.TrimSuffix(lines[idx], "\r") + " 🆔 " + id
	if strings.HasSuffix(lines[idx], "\r") {
		lines[idx] = line + "\r"
	} else {
		lines[idx] = line
	}
	if err := writeFileAtomic(path, []byte(strings.Join(lines, "\n"))); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", t.File, err)
	}

	t.ID = id
	t.Line = idx
	t.Raw = line
	return id, nil
}

// locate finds the task's current line: an 🆔 scan when the task has an
// id, then the recorded line index if it still parses to the same task.
func (w *Writer) locate(lines []string, t *task.Task) (int, *task.Task) {
	if t.ID != "" {
		for i, line := range lines {
			p, _ := w.parser.parse(strings.TrimSuffix(line, "\r"))
			if p != nil && p.ID == t.ID {
				return i, p
			}
		}
	}
	if t.Line >= 0 && t.Line < len(lines) {
		p, _ := w.parser.parse(strings.TrimSuffix(lines[t.Line], "\r"))
		if p != nil && p.Description == t.Description && (p.ID == "" || p.ID == t.ID) {
			return t.Line, p
		}
	}
	return -1, nil
}

func buildLine(indent string, status task.Status, description string, tags []string, due *time.Time, id string) string {
	var b strings.Builder
	b.WriteString(indent)
	if status == task.StatusCompleted {
		b.WriteString("- [x] ")
	} else {
		b.WriteString("- [ ] ")
	}
	b.WriteString(description)
	for _, tag := range tags {
		b.WriteString(" #")
		b.WriteString(tag)
	}
	if due != nil {
		b.WriteString(" 📅 ")
		b.WriteString(task.DueString(due))
	}
	if id != "" {
		b.WriteString(" 🆔 ")
		b.WriteString(id)
	}
	return b.String()
}

// writeFileAtomic writes data to path via a temp file and rename so a
// crash mid-write never leaves a truncated vault file. The original file
// mode is preserved.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".taskdav-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
