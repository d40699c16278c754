package publisher

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/model"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

func init() {
	Register("memory", func(def config.PublisherDef) (model.Publisher, error) {
		return NewMemoryStore(def.Memory.Checkpoint)
	})
}

// TableTotals holds the cumulative counters of one table.
type TableTotals struct {
	Table    model.TableID
	Name     string
	Updated  time.Time
	Epochs   uint64
	Counters model.CounterMap
}

// checkpoint is the gob-encoded form of a MemoryStore.
type checkpoint struct {
	Saved  time.Time
	Tables map[model.TableID]*TableTotals
}

// MemoryStore accumulates the published deltas into per-object totals.
// It plays the role of the policy objects counters are reported to.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[model.TableID]*TableTotals
	path   string
}

// NewMemoryStore creates a store. When path is set, a previous checkpoint is
// restored from it and Close saves a new one.
func NewMemoryStore(path string) (*MemoryStore, error) {
	s := &MemoryStore{tables: make(map[model.TableID]*TableTotals), path: path}
	if path == "" {
		return s, nil
	}
	if err := s.Load(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Printf("No checkpoint found at %s, starting from zero.", path)
	}
	return s, nil
}

func (s *MemoryStore) Name() string { return "memory" }

// Publish adds the delta to the running totals.
func (s *MemoryStore) Publish(_ context.Context, d model.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[d.Table]
	if !ok {
		t = &TableTotals{Table: d.Table, Counters: make(model.CounterMap)}
		s.tables[d.Table] = t
	}
	t.Name = d.TableName
	t.Updated = d.Timestamp
	t.Epochs++
	for k, c := range d.Counters {
		t.Counters[k] = t.Counters[k].Add(c)
	}
	return nil
}

// Totals returns a copy of the totals of one table.
func (s *MemoryStore) Totals(table model.TableID) (TableTotals, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return TableTotals{}, false
	}
	cp := *t
	cp.Counters = maps.Clone(t.Counters)
	return cp, true
}

// Tables returns the ids of the tables that received at least one delta, in ascending order.
func (s *MemoryStore) Tables() []model.TableID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.tables))
}

// Save writes a gob checkpoint of the store. The file is replaced atomically.
func (s *MemoryStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := checkpoint{Saved: time.Now().UTC(), Tables: s.tables}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&cp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode checkpoint to gob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace checkpoint '%s': %w", path, err)
	}
	return nil
}

// Load replaces the content of the store with a checkpoint.
func (s *MemoryStore) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var cp checkpoint
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return fmt.Errorf("failed to decode checkpoint '%s': %w", path, err)
	}
	if cp.Tables == nil {
		cp.Tables = make(map[model.TableID]*TableTotals)
	}
	for _, t := range cp.Tables {
		if t.Counters == nil {
			t.Counters = make(model.CounterMap)
		}
	}

	s.mu.Lock()
	s.tables = cp.Tables
	s.mu.Unlock()
	log.Printf("Restored counters of %d tables from checkpoint saved at %s.", len(cp.Tables), cp.Saved.Format(time.RFC3339))
	return nil
}

// Close saves a checkpoint if the store was created with a path.
func (s *MemoryStore) Close() error {
	if s.path == "" {
		return nil
	}
	if err := s.Save(s.path); err != nil {
		return err
	}
	log.Printf("Counters checkpointed to %s.", s.path)
	return nil
}
