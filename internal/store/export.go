package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// mappingRecord is the JSONL wire format for mapping export/import. The
// export file is the disaster-recovery path when the state database is
// lost: importing it back prevents a full re-pairing of every task.
type mappingRecord struct {
	LocalID        string    `json:"local_id"`
	RemoteUID      string    `json:"remote_uid"`
	RemotePath     string    `json:"remote_path,omitempty"`
	ETag           string    `json:"etag,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	LocalModified  time.Time `json:"local_modified"`
	RemoteModified time.Time `json:"remote_modified"`
	LastSynced     time.Time `json:"last_synced"`
}

func toRecord(m *Mapping) mappingRecord {
	return mappingRecord{
		LocalID:        m.LocalID,
		RemoteUID:      m.RemoteUID,
		RemotePath:     m.RemotePath,
		ETag:           m.ETag,
		Fingerprint:    m.Fingerprint,
		LocalModified:  m.LocalModified,
		RemoteModified: m.RemoteModified,
		LastSynced:     m.LastSynced,
	}
}

func (r mappingRecord) toMapping() *Mapping {
	return &Mapping{
		LocalID:        r.LocalID,
		RemoteUID:      r.RemoteUID,
		RemotePath:     r.RemotePath,
		ETag:           r.ETag,
		Fingerprint:    r.Fingerprint,
		LocalModified:  r.LocalModified,
		RemoteModified: r.RemoteModified,
		LastSynced:     r.LastSynced,
	}
}

// ExportJSONL writes every mapping to path as one JSON object per line.
// The file is written atomically via a temp file and rename.
func (s *Store) ExportJSONL(path string) (int, error) {
	return s.ExportJSONLContext(context.Background(), path)
}

// ExportJSONLContext exports mappings with context support.
func (s *Store) ExportJSONLContext(ctx context.Context, path string) (int, error) {
	mappings, err := s.AllContext(ctx)
	if err != nil {
		return 0, err
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	encoder := json.NewEncoder(f)
	for _, m := range mappings {
		if err := encoder.Encode(toRecord(m)); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return 0, fmt.Errorf("failed to encode mapping %s: %w", m.LocalID, err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to flush export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize export file: %w", err)
	}

	return len(mappings), nil
}

// ImportJSONL reads mappings from a JSONL export and upserts them into
// the store. Existing mappings with the same local id are overwritten.
func (s *Store) ImportJSONL(path string) (int, error) {
	return s.ImportJSONLContext(context.Background(), path)
}

// ImportJSONLContext imports mappings with context support.
func (s *Store) ImportJSONLContext(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	count := 0
	for {
		var rec mappingRecord
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, fmt.Errorf("invalid JSON at record %d: %w", count+1, err)
		}
		if err := s.PutContext(ctx, rec.toMapping()); err != nil {
			return count, fmt.Errorf("failed to import mapping %s: %w", rec.LocalID, err)
		}
		count++
	}

	return count, nil
}
