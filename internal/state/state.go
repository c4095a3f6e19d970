// SPDX-License-Identifier: MIT

// Package state keeps per-run operational records in an embedded badger
// database. Run records survive daemon restarts, which is what lets the
// API answer "what ran here last night and how far did it get".
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/goombaio/namegenerator"
)

// ErrNotFound is returned when no record exists for the key.
var ErrNotFound = errors.New("state: not found")

const (
	runPrefix = "run:"
	curPrefix = "cur:"
)

// RunRecord tracks one pipeline run from start to finish.
type RunRecord struct {
	RunID      string `json:"run_id"`
	PipelineID string `json:"pipeline_id"`
	// Name is a human-memorable label for log greps and CLI output.
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	State     string    `json:"state"`

	FramesIngested uint64 `json:"frames_ingested"`
	EventCount     uint64 `json:"event_count"`
	HazardCount    uint64 `json:"hazard_count"`
	LastSeq        uint64 `json:"last_seq"`

	Error string `json:"error,omitempty"`
}

// NewRunRecord creates a record for a starting run with a generated id
// and name.
func NewRunRecord(pipelineID, source string) *RunRecord {
	gen := namegenerator.NewNameGenerator(time.Now().UnixNano())
	return &RunRecord{
		RunID:      uuid.NewString(),
		PipelineID: pipelineID,
		Name:       gen.Generate(),
		Source:     source,
		StartedAt:  time.Now().UTC(),
		State:      "starting",
	}
}

// Store persists run records.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store for tests and one-shot runs.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open in-memory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PutRun stores the record and marks it the pipeline's current run.
func (s *Store) PutRun(ctx context.Context, rec *RunRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runPrefix+rec.RunID), buf); err != nil {
			return err
		}
		return txn.Set([]byte(curPrefix+rec.PipelineID), []byte(rec.RunID))
	})
}

// GetRun loads a record by run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var out RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentRun loads the most recent run of a pipeline.
func (s *Store) CurrentRun(ctx context.Context, pipelineID string) (*RunRecord, error) {
	var runID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(curPrefix + pipelineID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			runID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetRun(ctx, runID)
}

// UpdateRun applies fn to the stored record inside one transaction.
func (s *Store) UpdateRun(ctx context.Context, runID string, fn func(*RunRecord) error) (*RunRecord, error) {
	key := []byte(runPrefix + runID)
	var out RunRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns all stored run records, unordered.
func (s *Store) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	var out []*RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(runPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
