// Package supervisor drives each proxy instance through its lifecycle
// state machine, owning the cancellation token and forwarder goroutines
// for every instance currently Starting or Running.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkvashchuk/l4proxyd/internal/accesscache"
	"github.com/rkvashchuk/l4proxyd/internal/forwarder"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

// bindTimeout bounds how long Start waits for a forwarder to report
// whether its listen socket bound successfully.
const bindTimeout = 5 * time.Second

// stopGrace is the cooperative shutdown window from spec §4.7: the
// supervisor cancels the instance's token and gives its forwarders this
// long to return before moving on regardless.
const stopGrace = 200 * time.Millisecond

// accessCacheCapacity bounds each instance's own access-cache LRU (spec §3).
const accessCacheCapacity = 10000

// handle is the runtime state for one Starting or Running instance. It
// exists only between a successful start and the stop that tears it down.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the Runtime Handle for every running instance and the
// process-wide collaborators every instance's forwarders borrow. The
// access cache is the one exception: spec §4.2 ties its TTL to "the
// instance's idle timeout", so each running instance gets its own cache
// rather than sharing one with a single TTL across instances with
// different idle_timeout settings.
type Supervisor struct {
	Pool    *pool.BufferPool
	Metrics *metrics.Manager
	Logger  *slog.Logger

	mu      sync.RWMutex
	handles map[uuid.UUID]*handle
}

// New constructs a Supervisor. Pool and Metrics are shared across every
// instance it supervises.
func New(p *pool.BufferPool, m *metrics.Manager, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		Pool:    p,
		Metrics: m,
		Logger:  logger,
		handles: make(map[uuid.UUID]*handle),
	}
}

// IsRunning reports whether id currently has a runtime handle, i.e. is
// Starting or Running.
func (s *Supervisor) IsRunning(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[id]
	return ok
}

// Start transitions def from Stopped (or Error) to Running, binding a TCP
// and/or UDP forwarder per its protocol. A no-op success if already
// running. On bind failure def.Status becomes Error and LastError is set.
func (s *Supervisor) Start(ctx context.Context, def *registry.Definition) error {
	s.mu.Lock()
	if _, ok := s.handles[def.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	def.Status = registry.StatusStarting
	cfg := def.Config

	inst := s.Metrics.Register(def.ID)
	cache := accesscache.New(accessCacheCapacity, time.Duration(cfg.IdleTimeoutSecs)*time.Second)
	runCtx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var startErr error

	if cfg.Protocol == proxycfg.ProtocolTCP || cfg.Protocol == proxycfg.ProtocolBoth {
		if err := s.spawnTCP(runCtx, &wg, cfg, inst, cache, def.ID); err != nil {
			startErr = err
		}
	}
	if startErr == nil && (cfg.Protocol == proxycfg.ProtocolUDP || cfg.Protocol == proxycfg.ProtocolBoth) {
		if err := s.spawnUDP(runCtx, &wg, cfg, inst, cache, def.ID); err != nil {
			startErr = err
		}
	}

	if startErr != nil {
		cancel()
		wg.Wait()
		s.Metrics.Unregister(def.ID)
		def.Status = registry.StatusError
		def.LastError = startErr.Error()
		def.StartedAt = nil
		return startErr
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	s.mu.Lock()
	s.handles[def.ID] = &handle{cancel: cancel, done: done}
	s.mu.Unlock()

	now := time.Now()
	def.Status = registry.StatusRunning
	def.StartedAt = &now
	def.LastError = ""
	return nil
}

// spawnTCP runs a TCP forwarder in its own goroutine (tracked by wg) and
// blocks until its listen socket reports bound or failed.
func (s *Supervisor) spawnTCP(ctx context.Context, wg *sync.WaitGroup, cfg proxycfg.Config, inst *metrics.Instance, cache *accesscache.Cache, id uuid.UUID) error {
	ready := make(chan error, 1)
	f := &forwarder.TCP{
		Config:  cfg,
		Pool:    s.Pool,
		Cache:   cache,
		Metrics: inst,
		Logger:  s.instanceLogger(id),
		Ready:   ready,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Run(ctx)
	}()
	return waitReady(ready)
}

// spawnUDP is spawnTCP's UDP counterpart.
func (s *Supervisor) spawnUDP(ctx context.Context, wg *sync.WaitGroup, cfg proxycfg.Config, inst *metrics.Instance, cache *accesscache.Cache, id uuid.UUID) error {
	ready := make(chan error, 1)
	f := &forwarder.UDP{
		Config:  cfg,
		Pool:    s.Pool,
		Cache:   cache,
		Metrics: inst,
		Logger:  s.instanceLogger(id),
		Ready:   ready,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Run(ctx)
	}()
	return waitReady(ready)
}

func waitReady(ready <-chan error) error {
	select {
	case err := <-ready:
		return err
	case <-time.After(bindTimeout):
		return fmt.Errorf("supervisor: forwarder did not report readiness within %s", bindTimeout)
	}
}

func (s *Supervisor) instanceLogger(id uuid.UUID) *slog.Logger {
	if s.Logger == nil {
		return nil
	}
	return s.Logger.With("instance_id", id)
}

// Stop transitions def from Running to Stopped: cancels its token, gives
// its forwarders stopGrace to return, then drops the handle regardless. A
// no-op success if not running.
func (s *Supervisor) Stop(ctx context.Context, def *registry.Definition) error {
	s.mu.Lock()
	h, ok := s.handles[def.ID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.handles, def.ID)
	s.mu.Unlock()

	def.Status = registry.StatusStopping
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(stopGrace):
		if s.Logger != nil {
			s.Logger.Warn("forwarder did not stop within grace period", "instance_id", def.ID)
		}
	}

	s.Metrics.Unregister(def.ID)
	def.Status = registry.StatusStopped
	def.StartedAt = nil
	return nil
}
