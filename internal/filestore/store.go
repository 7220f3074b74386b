// Package filestore is the durable, directory-backed implementation of
// entitystore.Store.
//
// Layout under the root directory:
//
//	sobjects/<Entity>.json
//	data/<Entity>/<Entity>.csv, <Entity>_success.csv, <Entity>_errors.csv, analysis.json
//	plan/sortedTree.json
//	plan/loadOrder.json
//
// Whole-file writes go through a temp file, fsync and rename, so a crash
// never leaves a torn snapshot behind.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/dag"
	"github.com/vk/orgmigrate/internal/entity"
	"github.com/vk/orgmigrate/internal/entitystore"
)

const (
	snapshotDir   = "sobjects"
	dataDir       = "data"
	planDir       = "plan"
	forestFile    = "sortedTree.json"
	loadOrderFile = "loadOrder.json"
)

// Store keeps snapshots and data files under a root directory.
type Store struct {
	root string

	// appendMu serializes appends; whole-file writes are atomic on their own.
	appendMu sync.Mutex
}

var _ entitystore.Store = (*Store)(nil)

// New returns a store rooted at dir. The directory is created lazily.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) snapshotPath(name string) string {
	return filepath.Join(s.root, snapshotDir, name+".json")
}

func (s *Store) dataPath(entityName string, file entitystore.DataFile) string {
	return filepath.Join(s.root, dataDir, entityName, file.FileName(entityName))
}

// SaveEntity writes the entity snapshot as indented JSON.
func (s *Store) SaveEntity(ctx context.Context, e *entity.Entity) error {
	ctxlog.FromContext(ctx).Debug("Saving entity snapshot.", "entity", e.Name)
	return writeJSON(s.snapshotPath(e.Name), e)
}

// LoadEntity reads the snapshot of the named entity.
func (s *Store) LoadEntity(ctx context.Context, name string) (*entity.Entity, error) {
	var e entity.Entity
	if err := readJSON(s.snapshotPath(name), &e); err != nil {
		return nil, fmt.Errorf("load entity %q: %w", name, err)
	}
	return &e, nil
}

// EntityNames lists the stored snapshots.
func (s *Store) EntityNames(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, snapshotDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	slices.Sort(names)
	return names, nil
}

// WriteData replaces a data file.
func (s *Store) WriteData(ctx context.Context, entityName string, file entitystore.DataFile, data []byte) error {
	path := s.dataPath(entityName, file)
	ctxlog.FromContext(ctx).Debug("Writing data file.", "entity", entityName, "path", path, "bytes", len(data))
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// AppendData appends to a data file.
func (s *Store) AppendData(ctx context.Context, entityName string, file entitystore.DataFile, data []byte) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	path := s.dataPath(entityName, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadData returns a data file's content.
func (s *Store) ReadData(ctx context.Context, entityName string, file entitystore.DataFile) ([]byte, error) {
	path := s.dataPath(entityName, file)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, entitystore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// SaveForest writes the forest file.
func (s *Store) SaveForest(ctx context.Context, forest dag.Forest) error {
	if forest == nil {
		forest = dag.Forest{}
	}
	return writeJSON(filepath.Join(s.root, planDir, forestFile), forest)
}

// LoadForest reads the forest file.
func (s *Store) LoadForest(ctx context.Context) (dag.Forest, error) {
	var forest dag.Forest
	if err := readJSON(filepath.Join(s.root, planDir, forestFile), &forest); err != nil {
		return nil, fmt.Errorf("load forest: %w", err)
	}
	return forest, nil
}

// SaveLoadOrder writes the load order file.
func (s *Store) SaveLoadOrder(ctx context.Context, order []string) error {
	if order == nil {
		order = []string{}
	}
	return writeJSON(filepath.Join(s.root, planDir, loadOrderFile), order)
}

// LoadLoadOrder reads the load order file.
func (s *Store) LoadLoadOrder(ctx context.Context) ([]string, error) {
	var order []string
	if err := readJSON(filepath.Join(s.root, planDir, loadOrderFile), &order); err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return order, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entitystore.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
