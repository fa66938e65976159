package filter

import (
	"testing"
	"time"

	"github.com/taskdav/taskdav/internal/task"
)

var filterNow = time.Date(2026, 2, 3, 10, 15, 0, 0, time.UTC)

func tk(file string, tags ...string) *task.Task {
	return &task.Task{Description: "x", File: file, Tags: tags, Status: task.StatusOpen}
}

func completed(file string, due time.Time) *task.Task {
	t := tk(file)
	t.Status = task.StatusCompleted
	t.Due = &due
	return t
}

func TestZeroOptionsKeepEverything(t *testing.T) {
	keep := New(Options{})
	for _, tt := range []*task.Task{
		tk("root.md"),
		tk("Work/deep/nested.md", "anything"),
		completed("done.md", filterNow.AddDate(-1, 0, 0)),
	} {
		if !keep(tt) {
			t.Errorf("%s dropped by zero options", tt.File)
		}
	}
}

func TestSyncDisabledAlwaysDropped(t *testing.T) {
	keep := New(Options{})
	disabled := tk("Private/secret.md")
	disabled.SyncDisabled = true
	if keep(disabled) {
		t.Error("sync-disabled task kept")
	}
}

func TestFolderAllowList(t *testing.T) {
	keep := New(Options{Folders: []string{"Work", "Inbox/"}})
	tests := []struct {
		file string
		want bool
	}{
		{"Work/tasks.md", true},
		{"Work/Sub/deep.md", true},
		{"Inbox/today.md", true},
		{"Workout/gym.md", false},
		{"Personal/home.md", false},
		{"root.md", false},
	}
	for _, tt := range tests {
		if got := keep(tk(tt.file)); got != tt.want {
			t.Errorf("%s: keep = %v, want %v", tt.file, got, tt.want)
		}
	}
}

func TestExcludeFoldersWinOverAllowList(t *testing.T) {
	keep := New(Options{
		Folders:        []string{"Work"},
		ExcludeFolders: []string{"Work/Private"},
	})
	if !keep(tk("Work/tasks.md")) {
		t.Error("allowed folder dropped")
	}
	if keep(tk("Work/Private/secret.md")) {
		t.Error("excluded subfolder kept")
	}
}

func TestTagFilters(t *testing.T) {
	keep := New(Options{
		RequireTags: []string{"work", "home"},
		ExcludeTags: []string{"draft"},
	})
	tests := []struct {
		name string
		task *task.Task
		want bool
	}{
		{"one required tag", tk("a.md", "work"), true},
		{"other required tag", tk("a.md", "home", "extra"), true},
		{"case-insensitive", tk("a.md", "Work"), true},
		{"no required tag", tk("a.md", "misc"), false},
		{"untagged", tk("a.md"), false},
		{"exclusion wins", tk("a.md", "work", "draft"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keep(tt.task); got != tt.want {
				t.Errorf("keep = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxCompletedAge(t *testing.T) {
	keep := New(Options{
		MaxCompletedAge: 30 * 24 * time.Hour,
		Now:             func() time.Time { return filterNow },
	})

	old := filterNow.AddDate(0, -6, 0)
	recent := filterNow.AddDate(0, 0, -7)

	if keep(completed("a.md", old)) {
		t.Error("stale completed task kept")
	}
	if !keep(completed("a.md", recent)) {
		t.Error("recently due completed task dropped")
	}

	// Open tasks never age out, however old the due date.
	openOld := tk("a.md")
	openOld.Due = &old
	if !keep(openOld) {
		t.Error("open task dropped by age")
	}

	// Without a due date there is nothing to measure age from.
	noDue := tk("a.md")
	noDue.Status = task.StatusCompleted
	if !keep(noDue) {
		t.Error("completed task without due dropped")
	}
}

func TestFolderEntryCanPinASingleFile(t *testing.T) {
	keep := New(Options{Folders: []string{"Work/tasks.md"}})
	if !keep(tk("Work/tasks.md")) {
		t.Error("pinned file dropped")
	}
	if keep(tk("Work/other.md")) {
		t.Error("sibling file kept")
	}
}
