// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the entitystore.Store interface.
//
// # Characteristics
//
//   - **Ephemeral:** Created fresh for each run, nothing is persisted
//   - **Thread-Safe:** Uses sync.Map for per-key concurrent access
//   - **Isolated:** Snapshots are stored encoded, so callers never share an
//     *entity.Entity with the store and every load returns a fresh copy, the
//     same as reading it back from disk
package inmemorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/orgmigrate/internal/dag"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
)

// Store is an in-memory implementation of entitystore.Store.
//
// The store maintains two independent sync.Maps:
//   - snapshots: Maps entity names to their encoded JSON snapshot
//   - data: Maps "<entity>/<file>" keys to data file contents
type Store struct {
	snapshots sync.Map // Key: entity name, Value: []byte
	data      sync.Map // Key: dataKey, Value: []byte

	// mu guards read-modify-write on data files and the plan files.
	mu        sync.Mutex
	forest    []byte
	loadOrder []byte
}

type dataKey struct {
	entity string
	file   entitystore.DataFile
}

var _ entitystore.Store = (*Store)(nil)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{}
}

// SaveEntity records a copy of the entity.
func (s *Store) SaveEntity(ctx context.Context, e *entity.Entity) error {
	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity %q: %w", e.Name, err)
	}
	s.snapshots.Store(e.Name, encoded)
	return nil
}

// LoadEntity returns a fresh copy of the named entity.
func (s *Store) LoadEntity(ctx context.Context, name string) (*entity.Entity, error) {
	raw, ok := s.snapshots.Load(name)
	if !ok {
		return nil, fmt.Errorf("load entity %q: %w", name, entitystore.ErrNotFound)
	}
	var e entity.Entity
	if err := json.Unmarshal(raw.([]byte), &e); err != nil {
		return nil, fmt.Errorf("decode entity %q: %w", name, err)
	}
	return &e, nil
}

// EntityNames returns every stored name in ascending order.
func (s *Store) EntityNames(ctx context.Context) ([]string, error) {
	var names []string
	s.snapshots.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	slices.Sort(names)
	return names, nil
}

// WriteData replaces a data file.
func (s *Store) WriteData(ctx context.Context, entityName string, file entitystore.DataFile, data []byte) error {
	s.data.Store(dataKey{entityName, file}, slices.Clone(data))
	return nil
}

// AppendData appends to a data file.
func (s *Store) AppendData(ctx context.Context, entityName string, file entitystore.DataFile, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dataKey{entityName, file}
	var current []byte
	if raw, ok := s.data.Load(key); ok {
		current = raw.([]byte)
	}
	s.data.Store(key, append(slices.Clone(current), data...))
	return nil
}

// ReadData returns a copy of a data file.
func (s *Store) ReadData(ctx context.Context, entityName string, file entitystore.DataFile) ([]byte, error) {
	raw, ok := s.data.Load(dataKey{entityName, file})
	if !ok {
		return nil, fmt.Errorf("read %s of %q: %w", file, entityName, entitystore.ErrNotFound)
	}
	return slices.Clone(raw.([]byte)), nil
}

// SaveForest records the forest.
func (s *Store) SaveForest(ctx context.Context, forest dag.Forest) error {
	encoded, err := json.Marshal(forest)
	if err != nil {
		return fmt.Errorf("encode forest: %w", err)
	}
	s.mu.Lock()
	s.forest = encoded
	s.mu.Unlock()
	return nil
}

// LoadForest returns a copy of the recorded forest.
func (s *Store) LoadForest(ctx context.Context) (dag.Forest, error) {
	s.mu.Lock()
	encoded := s.forest
	s.mu.Unlock()
	if encoded == nil {
		return nil, fmt.Errorf("load forest: %w", entitystore.ErrNotFound)
	}

	var forest dag.Forest
	if err := json.Unmarshal(encoded, &forest); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	return forest, nil
}

// SaveLoadOrder records the load order.
func (s *Store) SaveLoadOrder(ctx context.Context, order []string) error {
	encoded, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode load order: %w", err)
	}
	s.mu.Lock()
	s.loadOrder = encoded
	s.mu.Unlock()
	return nil
}

// LoadLoadOrder returns a copy of the recorded load order.
func (s *Store) LoadLoadOrder(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	encoded := s.loadOrder
	s.mu.Unlock()
	if encoded == nil {
		return nil, fmt.Errorf("load order: %w", entitystore.ErrNotFound)
	}

	var order []string
	if err := json.Unmarshal(encoded, &order); err != nil {
		return nil, fmt.Errorf("decode load order: %w", err)
	}
	return order, nil
}
