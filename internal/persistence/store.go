// Package persistence implements the registry's storage port on top of a
// single TOML document on disk, mirroring the traced reference
// implementation's configuration file one-for-one.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

const documentVersion = "1.0"

// document is the on-disk shape of the whole registry.
type document struct {
	Instances []record  `toml:"instances"`
	Version   string    `toml:"version"`
	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// record is one instance definition as stored on disk. Status is persisted
// for operator visibility but Store.Load always restores instances as
// Stopped; only the registry's StartAuto pass brings them back up.
type record struct {
	ID        uuid.UUID       `toml:"id"`
	Name      string          `toml:"name"`
	Config    proxycfg.Config `toml:"config"`
	Status    registry.Status `toml:"status"`
	AutoStart bool            `toml:"auto_start"`
	CreatedAt time.Time       `toml:"created_at"`
	StartedAt *time.Time      `toml:"started_at,omitempty"`
	LastError string          `toml:"last_error,omitempty"`
}

func toRecord(d *registry.Definition) record {
	return record{
		ID:        d.ID,
		Name:      d.Name,
		Config:    d.Config,
		Status:    d.Status,
		AutoStart: d.AutoStart,
		CreatedAt: d.CreatedAt,
		StartedAt: d.StartedAt,
		LastError: d.LastError,
	}
}

func fromRecord(r record) *registry.Definition {
	return &registry.Definition{
		ID:        r.ID,
		Name:      r.Name,
		Config:    r.Config,
		Status:    registry.StatusStopped,
		AutoStart: r.AutoStart,
		CreatedAt: r.CreatedAt,
		StartedAt: nil,
		LastError: r.LastError,
	}
}

// Store is a file-backed implementation of registry.Store. It keeps the
// full document in memory and rewrites the file on every mutation, the
// same write-through policy as the traced original.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// New returns a Store writing to path. Call Load once at startup to
// populate both the in-memory document and the returned definitions.
func New(path string) *Store {
	now := time.Now()
	return &Store{
		path: path,
		doc: document{
			Instances: nil,
			Version:   documentVersion,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Load reads the document from disk, or returns an empty set if the file
// does not exist yet (first run).
func (s *Store) Load() ([]*registry.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read %s: %w", s.path, err)
	}

	var doc document
	if err := toml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("persistence: parse %s: %w", s.path, err)
	}
	s.doc = doc

	defs := make([]*registry.Definition, 0, len(doc.Instances))
	for _, r := range doc.Instances {
		defs = append(defs, fromRecord(r))
	}
	return defs, nil
}

// AddInstance appends def to the document and rewrites the file.
func (s *Store) AddInstance(def *registry.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Instances = append(s.doc.Instances, toRecord(def))
	return s.flushLocked()
}

// UpdateInstance replaces the stored record matching def.ID, appending it
// if absent.
func (s *Store) UpdateInstance(def *registry.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i, r := range s.doc.Instances {
		if r.ID == def.ID {
			s.doc.Instances[i] = toRecord(def)
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Instances = append(s.doc.Instances, toRecord(def))
	}
	return s.flushLocked()
}

// RemoveInstance deletes the record matching id, if present, and rewrites
// the file only when something actually changed.
func (s *Store) RemoveInstance(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc.Instances[:0]
	changed := false
	for _, r := range s.doc.Instances {
		if r.ID == id {
			changed = true
			continue
		}
		out = append(out, r)
	}
	s.doc.Instances = out
	if !changed {
		return nil
	}
	return s.flushLocked()
}

// Export serializes the current document to TOML.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toml.Marshal(s.doc)
}

// Import replaces the document with blob's contents, persists it, and
// returns the resulting definitions.
func (s *Store) Import(blob []byte) ([]*registry.Definition, error) {
	var doc document
	if err := toml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("persistence: parse import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	if err := s.flushLocked(); err != nil {
		return nil, err
	}

	defs := make([]*registry.Definition, 0, len(doc.Instances))
	for _, r := range doc.Instances {
		defs = append(defs, fromRecord(r))
	}
	return defs, nil
}

// CreateBackup writes the current document to a timestamped sibling file
// and returns its path.
func (s *Store) CreateBackup() (string, error) {
	s.mu.RLock()
	b, err := toml.Marshal(s.doc)
	s.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("persistence: marshal backup: %w", err)
	}

	ext := filepath.Ext(s.path)
	base := s.path[:len(s.path)-len(ext)]
	backupPath := fmt.Sprintf("%s.backup_%s%s", base, time.Now().UTC().Format("20060102_150405"), ext)
	if err := os.WriteFile(backupPath, b, 0o644); err != nil {
		return "", fmt.Errorf("persistence: write backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

// flushLocked stamps updated_at and rewrites the document to disk. Callers
// must hold s.mu for writing.
func (s *Store) flushLocked() error {
	s.doc.UpdatedAt = time.Now()
	b, err := toml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", s.path, err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("persistence: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", s.path, err)
	}
	return nil
}
