package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound means no snapshot has ever been persisted. Callers
// rebuild from exchange truth in that case.
var ErrNotFound = errors.New("state: no snapshot found")

// CorruptError marks a snapshot file that exists but cannot be parsed.
// Fatal at startup: trading on size-zero assumptions against an
// unknown exchange position is a safety violation.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state: snapshot %s corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store persists snapshots. Save must be atomic from the caller's
// perspective: a partial write is never observable as a valid snapshot.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileStore keeps the snapshot as a single JSON file, written to a
// temp file in the same directory and atomically renamed into place.
type FileStore struct {
	path string

	// highest sequence this store has durably written; Save refuses
	// to write an equal or older sequence.
	lastSeq uint64
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &CorruptError{Path: fs.path, Err: err}
	}

	var snap Snapshot
	// Unknown fields are deliberately ignored: the same file is read
	// after code upgrades.
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: fs.path, Err: err}
	}
	if snap.Version <= 0 || snap.Positions == nil {
		return nil, &CorruptError{Path: fs.path, Err: errors.New("missing version or positions")}
	}

	fs.lastSeq = snap.Sequence
	return &snap, nil
}

func (fs *FileStore) Save(snap *Snapshot) error {
	if snap.Sequence <= fs.lastSeq {
		return fmt.Errorf("state: sequence regression: have %d, got %d", fs.lastSeq, snap.Sequence)
	}
	snap.Version = SnapshotVersion
	snap.Time = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp: %w", err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename snapshot: %w", err)
	}

	fs.lastSeq = snap.Sequence
	return nil
}
