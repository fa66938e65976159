package scanner

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

func newTestWriter(t *testing.T, root string) (*Writer, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	return NewWriter(root, log.New(buf, "", 0)), buf
}

func readVaultFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("failed to read vault file: %v", err)
	}
	return string(data)
}

// scanOne scans the vault and returns its single task.
func scanOne(t *testing.T, root string) *task.Task {
	t.Helper()
	s, _ := newTestScanner(t, root)
	tasks := scanAll(t, s)
	if len(tasks) != 1 {
		t.Fatalf("found %d tasks, want 1", len(tasks))
	}
	return tasks[0]
}

func duePtr(y int, m time.Month, d int) *time.Time {
	dt := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &dt
}

func TestApplyRewritesOnlyItsLine(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", `# Inbox

- [ ] Buy milk 📅 2026-01-15 #errands 🆔 a3f9c2d1
- [ ] Other task
`)
	s, _ := newTestScanner(t, root)
	tasks := scanAll(t, s)
	w, _ := newTestWriter(t, root)

	if err := w.Apply(tasks[0], "Buy oat milk", nil, task.StatusCompleted); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := `# Inbox

- [x] Buy oat milk #errands 🆔 a3f9c2d1
- [ ] Other task
`
	if got := readVaultFile(t, root, "inbox.md"); got != want {
		t.Errorf("file after apply:\n%q\nwant:\n%q", got, want)
	}
	if tasks[0].Description != "Buy oat milk" || tasks[0].Status != task.StatusCompleted || tasks[0].Due != nil {
		t.Errorf("in-memory task not updated: %+v", tasks[0])
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Task one 🆔 abcd1234\n")
	tk := scanOne(t, root)
	w, _ := newTestWriter(t, root)

	if err := w.Apply(tk, "Task one", duePtr(2026, 3, 5), task.StatusOpen); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := readVaultFile(t, root, "inbox.md")

	if err := w.Apply(tk, "Task one", duePtr(2026, 3, 5), task.StatusOpen); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second := readVaultFile(t, root, "inbox.md"); second != first {
		t.Errorf("second apply changed bytes:\n%q\nvs\n%q", second, first)
	}
}

func TestApplyAddsAndRemovesDue(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Dated 🆔 abcd1234\n")
	tk := scanOne(t, root)
	w, _ := newTestWriter(t, root)

	if err := w.Apply(tk, "Dated", duePtr(2026, 3, 5), task.StatusOpen); err != nil {
		t.Fatal(err)
	}
	if got := readVaultFile(t, root, "inbox.md"); got != "- [ ] Dated 📅 2026-03-05 🆔 abcd1234\n" {
		t.Errorf("due not added: %q", got)
	}

	if err := w.Apply(tk, "Dated", nil, task.StatusOpen); err != nil {
		t.Fatal(err)
	}
	if got := readVaultFile(t, root, "inbox.md"); got != "- [ ] Dated 🆔 abcd1234\n" {
		t.Errorf("due not removed: %q", got)
	}
}

func TestApplyLocatesByIDWhenLinesShift(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Movable 🆔 abcd1234\n")
	tk := scanOne(t, root)

	// Two lines appear above the task between scan and apply.
	writeVaultFile(t, root, "inbox.md", "# Added heading\n\n- [ ] Movable 🆔 abcd1234\n")

	w, _ := newTestWriter(t, root)
	if err := w.Apply(tk, "Movable", nil, task.StatusCompleted); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := "# Added heading\n\n- [x] Movable 🆔 abcd1234\n"
	if got := readVaultFile(t, root, "inbox.md"); got != want {
		t.Errorf("file after apply: %q, want %q", got, want)
	}
	if tk.Line != 2 {
		t.Errorf("task line not refreshed: %d", tk.Line)
	}
}

func TestApplyRestoresDeletedIDToken(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Keep me 🆔 deadbeef\n")
	tk := scanOne(t, root)

	// A human stripped the token by hand.
	writeVaultFile(t, root, "inbox.md", "- [ ] Keep me\n")

	w, buf := newTestWriter(t, root)
	if err := w.Apply(tk, "Keep me", nil, task.StatusOpen); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := readVaultFile(t, root, "inbox.md"); got != "- [ ] Keep me 🆔 deadbeef\n" {
		t.Errorf("token not restored: %q", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("WARNING")) {
		t.Errorf("restore not logged:\n%s", buf.String())
	}
}

func TestApplyKeepsLineTagsNotFolderTags(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, ".taskdav.toml", "tags = [\"work\"]\n")
	writeVaultFile(t, root, "proj.md", "- [ ] Tagged #home 🆔 abcd1234\n")

	tk := scanOne(t, root)
	if len(tk.Tags) != 2 {
		t.Fatalf("folder tag not merged for filtering: %v", tk.Tags)
	}

	w, _ := newTestWriter(t, root)
	if err := w.Apply(tk, "Tagged", nil, task.StatusOpen); err != nil {
		t.Fatal(err)
	}
	got := readVaultFile(t, root, "proj.md")
	if !strings.Contains(got, "#home") {
		t.Errorf("line tag lost: %q", got)
	}
	if strings.Contains(got, "#work") {
		t.Errorf("folder tag leaked into the file: %q", got)
	}
}

func TestApplyPreservesCRLF(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "win.md", "- [ ] Task 🆔 abcd1234\r\nplain text\r\n")
	tk := scanOne(t, root)
	w, _ := newTestWriter(t, root)

	if err := w.Apply(tk, "Task", nil, task.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	want := "- [x] Task 🆔 abcd1234\r\nplain text\r\n"
	if got := readVaultFile(t, root, "win.md"); got != want {
		t.Errorf("line terminators mangled:\n%q\nwant:\n%q", got, want)
	}
}

func TestApplyFailsWhenTaskIsGone(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Doomed 🆔 abcd1234\n")
	tk := scanOne(t, root)

	writeVaultFile(t, root, "inbox.md", "nothing here anymore\n")

	w, _ := newTestWriter(t, root)
	err := w.Apply(tk, "Doomed", nil, task.StatusOpen)
	if err == nil || !strings.Contains(err.Error(), "cannot locate") {
		t.Errorf("expected locate failure, got %v", err)
	}
}

func TestAssignID(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] New task\n")
	tk := scanOne(t, root)
	w, _ := newTestWriter(t, root)

	id, err := w.AssignID(tk)
	if err != nil {
		t.Fatalf("AssignID failed: %v", err)
	}
	if len(id) != 8 {
		t.Errorf("id = %q, want 8 characters", id)
	}
	if tk.ID != id {
		t.Errorf("task id not set: %q", tk.ID)
	}
	if got := readVaultFile(t, root, "inbox.md"); got != "- [ ] New task 🆔 "+id+"\n" {
		t.Errorf("token not appended: %q", got)
	}

	// Re-scanning reads the same identity back.
	rescanned := scanOne(t, root)
	if rescanned.ID != id {
		t.Errorf("re-scan id = %q, want %q", rescanned.ID, id)
	}

	// A second call keeps the existing id and does not rewrite.
	before := readVaultFile(t, root, "inbox.md")
	again, err := w.AssignID(tk)
	if err != nil || again != id {
		t.Errorf("second AssignID = %q, %v", again, err)
	}
	if after := readVaultFile(t, root, "inbox.md"); after != before {
		t.Error("second AssignID rewrote the file")
	}
}

func TestAssignIDRequiresMatchingLine(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "inbox.md", "- [ ] Original\n")
	tk := scanOne(t, root)

	// The line changed under us; minting an id against it would tag the
	// wrong task.
	writeVaultFile(t, root, "inbox.md", "- [ ] Rewritten\n")

	w, _ := newTestWriter(t, root)
	if _, err := w.AssignID(tk); err == nil {
		t.Error("AssignID should fail when the line no longer matches")
	}
}

func BenchmarkScan(b *testing.B) {
	root := b.TempDir()
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("- [ ] Task line with some text 📅 2026-01-15 #tag 🆔 abcd1234\n")
		sb.WriteString("prose line between tasks\n")
	}
	if err := os.WriteFile(filepath.Join(root, "big.md"), []byte(sb.String()), 0644); err != nil {
		b.Fatal(err)
	}
	s := New(root, nil, log.New(os.Stderr, "", 0))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Scan(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
