// Package scanner reads and writes checkbox tasks in a markdown vault.
//
// A task line looks like:
//
//	- [ ] Buy milk 📅 2026-01-15 #errands 🆔 a3f9c2d1
//
// The checkbox carries the status, 📅 (or due:) the due date, #words are
// local-only tags, and 🆔 the stable identity token minted on first sync.
// The scanner walks the vault once per cycle and parses every such line;
// the writer patches single lines in place, preserving everything around
// them.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/taskdav/taskdav/internal/task"
)

var (
	taskLineRe   = regexp.MustCompile(`^([ \t]*)- \[([ xX])\]\s+(.*)$`)
	idTokenRe    = regexp.MustCompile(`🆔\s*([A-Za-z0-9-]+)`)
	dueEmojiRe   = regexp.MustCompile(`📅\s*(\d{4}-\d{2}-\d{2})`)
	dueKeyRe     = regexp.MustCompile(`\bdue:(\d{4}-\d{2}-\d{2})\b`)
	dueNaturalRe = regexp.MustCompile(`\bdue:\(([^)]+)\)`)
	tagRe        = regexp.MustCompile(`(?:^|\s)#([\w/-]+)`)
)

// Scanner walks a vault directory and produces the tasks for one sync
// cycle. It is not safe for concurrent use; Scan is called from the
// single cycle goroutine only.
type Scanner struct {
	root   string
	ignore []string
	parser *lineParser
	logger *log.Logger

	// opts caches folder option lookups for the duration of one scan.
	opts map[string]*FolderOptions
}

// New creates a Scanner over the vault rooted at root. ignore holds glob
// patterns matched against vault-relative paths and base names; matching
// files and directory subtrees are skipped. If logger is nil, a default
// logger writing to stderr is used.
func New(root string, ignore []string, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(os.Stderr, "[scanner] ", log.LstdFlags)
	}
	return &Scanner{
		root:   filepath.Clean(root),
		ignore: ignore,
		parser: newLineParser(),
		logger: logger,
	}
}

// Scan walks the vault in lexical order and returns every checkbox task
// found in .md files. Dot-directories and ignored paths are skipped.
// Unreadable files and malformed option files are logged and skipped;
// only a failure on the vault root itself aborts the scan.
func (s *Scanner) Scan(ctx context.Context) ([]*task.Task, error) {
	s.opts = make(map[string]*FolderOptions)

	var tasks []*task.Task
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return err
			}
			s.logger.Printf("WARNING: skipping unreadable path %s: %v", path, err)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != s.root && (strings.HasPrefix(d.Name(), ".") || s.ignored(rel)) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !strings.EqualFold(filepath.Ext(d.Name()), ".md") || s.ignored(rel) {
			return nil
		}

		found, ferr := s.scanFile(path, rel)
		if ferr != nil {
			s.logger.Printf("WARNING: failed to scan %s: %v", rel, ferr)
			return nil
		}
		tasks = append(tasks, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk vault %s: %w", s.root, err)
	}
	return tasks, nil
}

func (s *Scanner) ignored(rel string) bool {
	for _, pattern := range s.ignore {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFile(path, rel string) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	opts, err := s.folderOptions(filepath.Dir(path))
	if err != nil {
		s.logger.Printf("WARNING: %v; folder options ignored", err)
		opts = nil
	}

	var tasks []*task.Task
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		t, warn := s.parser.parse(line)
		if warn != "" {
			s.logger.Printf("WARNING: %s:%d: %s", rel, i+1, warn)
		}
		if t == nil {
			continue
		}
		t.File = rel
		t.Line = i
		if opts != nil {
			if opts.Sync != nil && !*opts.Sync {
				t.SyncDisabled = true
			}
			t.Tags = mergeTags(t.Tags, opts.Tags)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func mergeTags(scanned, folder []string) []string {
	if len(folder) == 0 {
		return scanned
	}
	seen := make(map[string]bool, len(scanned))
	for _, tag := range scanned {
		seen[tag] = true
	}
	out := scanned
	for _, tag := range folder {
		if !seen[tag] {
			out = append(out, tag)
			seen[tag] = true
		}
	}
	return out
}

// lineParser extracts task tokens from a single markdown line. It is
// shared by the scanner and the writer so both sides read a line the
// same way.
type lineParser struct {
	natural *when.Parser
	now     func() time.Time
}

func newLineParser() *lineParser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &lineParser{natural: w, now: time.Now}
}

// parse returns the task on the line, or nil when the line is not a
// checkbox task. The second return value is a warning for the scan log
// ("" when clean); a warning never drops the task.
func (p *lineParser) parse(line string) (*task.Task, string) {
	m := taskLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil, ""
	}

	t := &task.Task{
		Status: task.StatusOpen,
		Indent: m[1],
		Raw:    line,
	}
	if m[2] != " " {
		t.Status = task.StatusCompleted
	}
	body := m[3]

	if im := idTokenRe.FindStringSubmatch(body); im != nil {
		t.ID = im[1]
		body = strings.Replace(body, im[0], " ", 1)
	}

	var warn string
	body, t.Due, warn = p.extractDue(body)

	for _, tm := range tagRe.FindAllStringSubmatch(body, -1) {
		t.Tags = append(t.Tags, tm[1])
	}
	body = tagRe.ReplaceAllString(body, " ")

	t.Description = strings.Join(strings.Fields(body), " ")
	if t.Description == "" {
		return nil, warn
	}
	return t, warn
}

// extractDue pulls the first due token off the line: 📅 date, then
// due:date, then due:(natural text). A token that fails to parse stays
// in the description and produces a warning.
func (p *lineParser) extractDue(body string) (string, *time.Time, string) {
	if m := dueEmojiRe.FindStringSubmatch(body); m != nil {
		return p.dueFromDate(body, m[0], m[1])
	}
	if m := dueKeyRe.FindStringSubmatch(body); m != nil {
		return p.dueFromDate(body, m[0], m[1])
	}
	if m := dueNaturalRe.FindStringSubmatch(body); m != nil {
		r, err := p.natural.Parse(m[1], p.now())
		if err != nil || r == nil {
			return body, nil, fmt.Sprintf("unparseable due date %q; task kept without due", m[1])
		}
		due := task.NormalizeDue(r.Time)
		return strings.Replace(body, m[0], " ", 1), &due, ""
	}
	return body, nil, ""
}

func (p *lineParser) dueFromDate(body, token, value string) (string, *time.Time, string) {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		return body, nil, fmt.Sprintf("unparseable due date %q; task kept without due", value)
	}
	due := task.NormalizeDue(d)
	return strings.Replace(body, token, " ", 1), &due, ""
}
