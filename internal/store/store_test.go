package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestStore creates a store backed by a temp directory database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mappings.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return s
}

// testMapping returns a valid mapping with second-precision timestamps,
// matching what the RFC3339 column format preserves.
func testMapping(localID, remoteUID string) *Mapping {
	return &Mapping{
		LocalID:        localID,
		RemoteUID:      remoteUID,
		RemotePath:     "/calendars/u/tasks/" + remoteUID + ".ics",
		ETag:           `"etag-1"`,
		Fingerprint:    "fp-" + localID,
		LocalModified:  time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		RemoteModified: time.Date(2026, 1, 10, 9, 0, 5, 0, time.UTC),
		LastSynced:     time.Date(2026, 1, 10, 9, 0, 10, 0, time.UTC),
	}
}

func TestOpenCreatesStateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := Open(filepath.Join(dir, "mappings.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.InitSchema(); err != nil {
			t.Fatalf("InitSchema call %d failed: %v", i+1, err)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "mappings.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	want := testMapping("a3f9c2d1", "uid-1")

	if err := s.Put(want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("a3f9c2d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing mapping")
	}
	assertMappingEqual(t, got, want)

	byUID, err := s.GetByRemoteUID("uid-1")
	if err != nil {
		t.Fatalf("GetByRemoteUID failed: %v", err)
	}
	if byUID == nil || byUID.LocalID != "a3f9c2d1" {
		t.Errorf("GetByRemoteUID returned %+v", byUID)
	}
}

func assertMappingEqual(t *testing.T, got, want *Mapping) {
	t.Helper()
	if got.LocalID != want.LocalID ||
		got.RemoteUID != want.RemoteUID ||
		got.RemotePath != want.RemotePath ||
		got.ETag != want.ETag ||
		got.Fingerprint != want.Fingerprint {
		t.Errorf("mapping fields mismatch:\n got: %+v\nwant: %+v", got, want)
	}
	if !got.LocalModified.Equal(want.LocalModified) ||
		!got.RemoteModified.Equal(want.RemoteModified) ||
		!got.LastSynced.Equal(want.LastSynced) {
		t.Errorf("mapping times mismatch:\n got: %+v\nwant: %+v", got, want)
	}
}

func TestGetAbsentReturnsNil(t *testing.T) {
	s := setupTestStore(t)
	got, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get returned %+v for absent mapping", got)
	}
	got, err = s.GetByRemoteUID("missing-uid")
	if err != nil {
		t.Fatalf("GetByRemoteUID failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetByRemoteUID returned %+v for absent mapping", got)
	}
}

func TestPutUpdatesExistingMapping(t *testing.T) {
	s := setupTestStore(t)
	m := testMapping("a3f9c2d1", "uid-1")
	if err := s.Put(m); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m.ETag = `"etag-2"`
	m.Fingerprint = "fp-after-push"
	m.LastSynced = m.LastSynced.Add(time.Hour)
	if err := s.Put(m); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get("a3f9c2d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ETag != `"etag-2"` || got.Fingerprint != "fp-after-push" {
		t.Errorf("Put did not update fields: %+v", got)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d after upsert, want 1", count)
	}
}

func TestRemoteUIDStaysUnique(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Put(testMapping("local-1", "uid-shared")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	err := s.Put(testMapping("local-2", "uid-shared"))
	if err == nil {
		t.Fatal("pairing a second local task to a mapped remote record should fail")
	}
}

func TestValidateRejectsIncompleteMappings(t *testing.T) {
	s := setupTestStore(t)
	tests := []struct {
		name   string
		mutate func(*Mapping)
	}{
		{"missing local id", func(m *Mapping) { m.LocalID = "" }},
		{"missing remote uid", func(m *Mapping) { m.RemoteUID = "" }},
		{"missing fingerprint", func(m *Mapping) { m.Fingerprint = "" }},
		{"missing last synced", func(m *Mapping) { m.LastSynced = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMapping("local-x", "uid-x")
			tt.mutate(m)
			if err := s.Put(m); err == nil {
				t.Error("Put should reject invalid mapping")
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Put(testMapping("local-1", "uid-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("local-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Get("local-1")
	if err != nil || got != nil {
		t.Errorf("mapping still present after delete: %+v, %v", got, err)
	}
	if err := s.Delete("local-1"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestAllReturnsOrderedMappings(t *testing.T) {
	s := setupTestStore(t)
	for _, id := range []string{"cc", "aa", "bb"} {
		if err := s.Put(testMapping(id, "uid-"+id)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All returned %d mappings, want 3", len(all))
	}
	for i, want := range []string{"aa", "bb", "cc"} {
		if all[i].LocalID != want {
			t.Errorf("All[%d].LocalID = %s, want %s", i, all[i].LocalID, want)
		}
	}
}

func TestLastSyncTime(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.LastSyncTime()
	if err != nil {
		t.Fatalf("LastSyncTime failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("LastSyncTime on empty store = %v, want zero", got)
	}

	early := testMapping("local-1", "uid-1")
	late := testMapping("local-2", "uid-2")
	late.LastSynced = early.LastSynced.Add(2 * time.Hour)
	for _, m := range []*Mapping{early, late} {
		if err := s.Put(m); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err = s.LastSyncTime()
	if err != nil {
		t.Fatalf("LastSyncTime failed: %v", err)
	}
	if !got.Equal(late.LastSynced) {
		t.Errorf("LastSyncTime = %v, want %v", got, late.LastSynced)
	}
}

func TestMutationsAreImmediatelyDurable(t *testing.T) {
	// A mapping written by one connection must be visible to a fresh
	// connection without an explicit flush step.
	path := filepath.Join(t.TempDir(), "mappings.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put(testMapping("local-1", "uid-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get("local-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got == nil {
		t.Fatal("mapping lost across reopen")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := setupTestStore(t)
	want := []*Mapping{
		testMapping("aa", "uid-aa"),
		testMapping("bb", "uid-bb"),
		testMapping("cc", "uid-cc"),
	}
	for _, m := range want {
		if err := src.Put(m); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	exportPath := filepath.Join(t.TempDir(), "mappings.jsonl")
	n, err := src.ExportJSONL(exportPath)
	if err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	if n != 3 {
		t.Errorf("ExportJSONL exported %d mappings, want 3", n)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; lines != 3 {
		t.Errorf("export has %d lines, want 3", lines)
	}

	dst := setupTestStore(t)
	n, err = dst.ImportJSONL(exportPath)
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	if n != 3 {
		t.Errorf("ImportJSONL imported %d mappings, want 3", n)
	}

	all, err := dst.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("imported store has %d mappings, want %d", len(all), len(want))
	}
	for i := range want {
		assertMappingEqual(t, all[i], want[i])
	}
}

func TestImportOverwritesExisting(t *testing.T) {
	src := setupTestStore(t)
	m := testMapping("aa", "uid-aa")
	m.ETag = `"new-etag"`
	if err := src.Put(m); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	exportPath := filepath.Join(t.TempDir(), "mappings.jsonl")
	if _, err := src.ExportJSONL(exportPath); err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}

	dst := setupTestStore(t)
	stale := testMapping("aa", "uid-aa")
	stale.ETag = `"stale-etag"`
	if err := dst.Put(stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := dst.ImportJSONL(exportPath); err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	got, err := dst.Get("aa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ETag != `"new-etag"` {
		t.Errorf("import did not overwrite: etag = %s", got.ETag)
	}
}

func TestImportRejectsMalformedFile(t *testing.T) {
	s := setupTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"local_id\": \"aa\"\nnot json\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ImportJSONL(path); err == nil {
		t.Error("ImportJSONL should fail on malformed input")
	}
}

func BenchmarkPut(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "mappings.db"))
	if err != nil {
		b.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := testMapping(fmt.Sprintf("local-%d", i), fmt.Sprintf("uid-%d", i))
		if err := s.Put(m); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "mappings.db"))
	if err != nil {
		b.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	for i := 0; i < 1000; i++ {
		if err := s.Put(testMapping(fmt.Sprintf("local-%d", i), fmt.Sprintf("uid-%d", i))); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Get(fmt.Sprintf("local-%d", i%1000)); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}
