package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkvashchuk/l4proxyd/internal/metrics"
)

// Store is the persistence port: everything the registry needs from
// durable storage. Implementations (e.g. a TOML file store) are free to
// fail; the registry logs persistence errors but never fails the
// corresponding in-memory operation because of them (spec §7).
type Store interface {
	Load() ([]*Definition, error)
	AddInstance(*Definition) error
	UpdateInstance(*Definition) error
	RemoveInstance(id uuid.UUID) error
	Export() ([]byte, error)
	Import(blob []byte) ([]*Definition, error)
	CreateBackup() (string, error)
}

// Lifecycle is the supervisor's contract as seen by the registry: start and
// stop a definition in place (mutating its Status/StartedAt), and report
// whether it is currently running. Implemented by *supervisor.Supervisor.
type Lifecycle interface {
	Start(ctx context.Context, def *Definition) error
	Stop(ctx context.Context, def *Definition) error
	IsRunning(id uuid.UUID) bool
}

// Stats is one instance's metrics snapshot plus its live running state, as
// returned by Registry.Stats.
type Stats struct {
	ID        uuid.UUID
	Name      string
	Status    Status
	IsRunning bool
	metrics.Snapshot
}

// Registry is the authoritative map of instance definitions. It owns no
// sockets or goroutines itself: it validates, persists, and delegates
// lifecycle transitions to a Lifecycle (the supervisor).
type Registry struct {
	mu          sync.RWMutex
	definitions map[uuid.UUID]*Definition

	store     Store
	lifecycle Lifecycle
	metrics   *metrics.Manager
	logger    *slog.Logger
}

// New creates an empty Registry. Call Load before serving traffic to
// repopulate it from persistence.
func New(store Store, lifecycle Lifecycle, metricsManager *metrics.Manager, logger *slog.Logger) *Registry {
	return &Registry{
		definitions: make(map[uuid.UUID]*Definition),
		store:       store,
		lifecycle:   lifecycle,
		metrics:     metricsManager,
		logger:      logger,
	}
}

// Load populates the registry from the persistence store. It does not
// start any instance; call StartAuto afterward if desired.
func (r *Registry) Load() error {
	defs, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		r.definitions[d.ID] = d
	}
	return nil
}

// Create validates req, assigns a new ID, inserts the definition, persists
// it, and starts it if requested.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Definition, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	def := &Definition{
		ID:        uuid.New(),
		Name:      req.Name,
		Config:    req.Config,
		Status:    StatusStopped,
		AutoStart: req.AutoStart,
		CreatedAt: now,
	}

	r.mu.Lock()
	r.definitions[def.ID] = def
	r.mu.Unlock()

	if err := r.store.AddInstance(def.Clone()); err != nil {
		r.logError("persist create failed", def.ID, err)
	}

	if req.AutoStart {
		if err := r.lifecycle.Start(ctx, def); err != nil {
			r.logError("auto-start on create failed", def.ID, err)
		}
		r.persistUpdateLocked(def)
	}

	return def.Clone(), nil
}

// Get returns a copy of the definition for id, if present.
func (r *Registry) Get(id uuid.UUID) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// List returns copies of every definition, optionally filtered by status.
func (r *Registry) List(status *Status) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.definitions))
	for _, d := range r.definitions {
		if status != nil && d.Status != *status {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

// Update applies patch to the definition for id, re-validating the result.
// If the definition is currently running, it is stopped and restarted so
// the forwarder picks up a fresh configuration snapshot (spec §4.7).
// A validation failure leaves the stored definition untouched.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Definition, error) {
	r.mu.Lock()
	d, ok := r.definitions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}

	candidate := d.Clone()
	patch.Apply(candidate)
	if err := candidate.Config.Validate(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	wasRunning := r.lifecycle.IsRunning(id)
	r.mu.Unlock()

	if wasRunning {
		if err := r.lifecycle.Stop(ctx, d); err != nil {
			r.logError("stop-for-update failed", id, err)
		}
	}

	r.mu.Lock()
	patch.Apply(d)
	r.mu.Unlock()

	if wasRunning {
		if err := r.lifecycle.Start(ctx, d); err != nil {
			r.logError("restart-after-update failed", id, err)
		}
	}

	r.mu.RLock()
	snapshot := d.Clone()
	r.mu.RUnlock()

	if err := r.store.UpdateInstance(snapshot); err != nil {
		r.logError("persist update failed", id, err)
	}

	return snapshot, nil
}

// Delete stops the instance (if running) and removes it from the registry
// and the persistence store.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	d, ok := r.definitions[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := r.lifecycle.Stop(ctx, d); err != nil {
		r.logError("stop-for-delete failed", id, err)
	}

	r.mu.Lock()
	delete(r.definitions, id)
	r.mu.Unlock()

	r.metrics.Unregister(id)

	if err := r.store.RemoveInstance(id); err != nil {
		r.logError("persist delete failed", id, err)
	}
	return nil
}

// Start is the API-facing start operation: no-op success if already
// running, otherwise delegates to the lifecycle and persists the result.
func (r *Registry) Start(ctx context.Context, id uuid.UUID) (*Definition, error) {
	r.mu.RLock()
	d, ok := r.definitions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	err := r.lifecycle.Start(ctx, d)
	r.persistUpdateLocked(d)
	if err != nil {
		return d.Clone(), err
	}
	return d.Clone(), nil
}

// Stop is the API-facing stop operation: no-op success if not running.
func (r *Registry) Stop(ctx context.Context, id uuid.UUID) (*Definition, error) {
	r.mu.RLock()
	d, ok := r.definitions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	err := r.lifecycle.Stop(ctx, d)
	r.persistUpdateLocked(d)
	if err != nil {
		return d.Clone(), err
	}
	return d.Clone(), nil
}

// StartAuto starts every definition with AutoStart set, used once at
// process boot after Load.
func (r *Registry) StartAuto(ctx context.Context) {
	for _, d := range r.List(nil) {
		if !d.AutoStart {
			continue
		}
		if _, err := r.Start(ctx, d.ID); err != nil {
			r.logError("auto-start failed", d.ID, err)
		}
	}
}

// Stats aggregates every instance's metrics snapshot with its live running
// state.
func (r *Registry) Stats() []Stats {
	defs := r.List(nil)
	out := make([]Stats, 0, len(defs))
	for _, d := range defs {
		out = append(out, r.statsFor(d))
	}
	return out
}

// StatsFor returns the metrics snapshot for a single instance.
func (r *Registry) StatsFor(id uuid.UUID) (Stats, bool) {
	d, ok := r.Get(id)
	if !ok {
		return Stats{}, false
	}
	return r.statsFor(d), true
}

func (r *Registry) statsFor(d *Definition) Stats {
	var snap metrics.Snapshot
	if inst, ok := r.metrics.Get(d.ID); ok {
		startedAt := time.Time{}
		if d.StartedAt != nil {
			startedAt = *d.StartedAt
		}
		snap = inst.Snapshot(startedAt)
	}
	return Stats{
		ID:        d.ID,
		Name:      d.Name,
		Status:    d.Status,
		IsRunning: r.lifecycle.IsRunning(d.ID),
		Snapshot:  snap,
	}
}

// Export serializes the entire registry through the persistence store.
func (r *Registry) Export() ([]byte, error) {
	return r.store.Export()
}

// Import atomically replaces the in-memory registry with the definitions
// decoded from blob: every currently running instance is stopped first,
// then the new set is installed and its auto-start instances launched.
func (r *Registry) Import(ctx context.Context, blob []byte) error {
	defs, err := r.store.Import(blob)
	if err != nil {
		return err
	}

	for _, d := range r.List(nil) {
		if err := r.lifecycle.Stop(ctx, d); err != nil {
			r.logError("stop-for-import failed", d.ID, err)
		}
		r.metrics.Unregister(d.ID)
	}

	r.mu.Lock()
	r.definitions = make(map[uuid.UUID]*Definition, len(defs))
	for _, d := range defs {
		r.definitions[d.ID] = d
	}
	r.mu.Unlock()

	r.StartAuto(ctx)
	return nil
}

// Backup asks the persistence store to snapshot itself and returns the
// backup's location.
func (r *Registry) Backup() (string, error) {
	return r.store.CreateBackup()
}

func (r *Registry) persistUpdateLocked(d *Definition) {
	r.mu.RLock()
	snapshot := d.Clone()
	r.mu.RUnlock()
	if err := r.store.UpdateInstance(snapshot); err != nil {
		r.logError("persist update failed", d.ID, err)
	}
}

func (r *Registry) logError(msg string, id uuid.UUID, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "instance_id", id, "error", err)
	}
}
