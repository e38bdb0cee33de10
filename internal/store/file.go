package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// File names inside a height directory, one per source and kind.
const (
	VotesFile      = "ws_votes.json"
	SignaturesFile = "ws_signatures.json"
	SnapshotFile   = "fetch_votes.json"
)

// FileStore writes indented JSON records to <dir>/<height>/<kind>.json.
// Read-merge-write is not locked: every file has exactly one writer.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file holding kind for height.
func (f *FileStore) Path(height int64, kind string) string {
	return filepath.Join(f.dir, strconv.FormatInt(height, 10), kind)
}

// LoadRoundState reads the vote record of height; a missing file yields an empty record.
func (f *FileStore) LoadRoundState(height int64) (*RoundState, error) {
	path := f.Path(height, VotesFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRoundState(height), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	state := NewRoundState(height)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, path, err)
	}
	if state.Rounds == nil {
		state.Rounds = map[int32]*RoundVotes{}
	}
	return state, nil
}

func (f *FileStore) AppendVote(_ context.Context, v Vote) (bool, error) {
	state, err := f.LoadRoundState(v.Height)
	if err != nil {
		return false, err
	}
	if !state.Merge(v) {
		return false, nil
	}
	if err := f.writeJSON(f.Path(v.Height, VotesFile), state); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileStore) SaveBlockSignatures(_ context.Context, set BlockSignatureSet) (bool, error) {
	path := f.Path(set.Height, SignaturesFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(set, "", "    ")
	if err != nil {
		return false, fmt.Errorf("encode signatures for %d: %w", set.Height, err)
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	// The record only appears under its final name once fully written;
	// linking fails if another record got there first.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+SignaturesFile+".*")
	if err != nil {
		return false, fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return false, fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link %s: %w", path, err)
	}
	return true, nil
}

func (f *FileStore) SaveSnapshot(_ context.Context, height int64, doc json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "    "); err != nil {
		return fmt.Errorf("%w: snapshot for %d: %v", ErrCorruptRecord, height, err)
	}
	path := f.Path(height, SnapshotFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (f *FileStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
