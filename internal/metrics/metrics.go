// Package metrics implements per-instance traffic counters and the
// process-wide system sampler that backs the proxy supervisor's stats
// endpoints.
package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Instance holds the lock-free counters for a single proxy instance.
// The byte counters use saturating adds: they clamp at the maximum instead
// of wrapping on overflow. The 32-bit connection and error counters are
// plain atomic increments and wrap on overflow.
type Instance struct {
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	connectionsActive atomic.Int32
	connectionsTotal atomic.Uint32
	errors           atomic.Uint32
}

func saturatingAddUint64(counter *atomic.Uint64, delta uint64) {
	for {
		cur := counter.Load()
		next := cur + delta
		if next < cur { // overflow
			next = math.MaxUint64
		}
		if counter.CompareAndSwap(cur, next) {
			return
		}
	}
}

// AddBytesSent records bytes written to the client (server->client leg).
func (i *Instance) AddBytesSent(n uint64) { saturatingAddUint64(&i.bytesSent, n) }

// AddBytesReceived records bytes written to the destination (client->server leg).
func (i *Instance) AddBytesReceived(n uint64) { saturatingAddUint64(&i.bytesReceived, n) }

// IncConnectionOpened marks a new connection/session as active.
func (i *Instance) IncConnectionOpened() {
	i.connectionsActive.Add(1)
	i.connectionsTotal.Add(1)
}

// DecConnectionClosed marks a connection/session as no longer active.
func (i *Instance) DecConnectionClosed() {
	i.connectionsActive.Add(-1)
}

// IncError records a connect failure, timeout, or I/O error.
func (i *Instance) IncError() { i.errors.Add(1) }

// Snapshot is a point-in-time view of an instance's counters plus the rates
// derived from them against the instance's started_at.
type Snapshot struct {
	BytesSent             uint64
	BytesReceived         uint64
	ConnectionsActive     int32
	ConnectionsTotal      uint32
	Errors                uint32
	BytesSentPerSec       float64
	BytesReceivedPerSec   float64
	ErrorRate             float64
	UptimeSeconds         int64
}

// Snapshot computes a Snapshot against the given start time. If the instance
// is not running, pass the zero time and uptime/rates report as zero.
func (i *Instance) Snapshot(startedAt time.Time) Snapshot {
	sent := i.bytesSent.Load()
	recv := i.bytesReceived.Load()
	total := i.connectionsTotal.Load()
	errs := i.errors.Load()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}
	denom := uptime
	if denom < 1 {
		denom = 1
	}

	errRate := 0.0
	if total > 0 {
		errRate = float64(errs) / float64(total)
	}

	var sentRate, recvRate float64
	if !startedAt.IsZero() {
		sentRate = float64(sent) / float64(denom)
		recvRate = float64(recv) / float64(denom)
	}

	return Snapshot{
		BytesSent:           sent,
		BytesReceived:       recv,
		ConnectionsActive:   i.connectionsActive.Load(),
		ConnectionsTotal:    total,
		Errors:              errs,
		BytesSentPerSec:     sentRate,
		BytesReceivedPerSec: recvRate,
		ErrorRate:           errRate,
		UptimeSeconds:       uptime,
	}
}

// SystemSnapshot is the process-wide aggregate captured every sampleInterval.
type SystemSnapshot struct {
	UptimeSeconds     int64
	TotalMemoryMB     float64
	UsedMemoryMB      float64
	CPUUsagePercent   float64
	ActiveConnections int64
	LastUpdated       time.Time
}

// Manager owns the per-instance counters and the periodic system sampler.
type Manager struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
	startTime time.Time

	sysMu  sync.RWMutex
	system SystemSnapshot
}

// NewManager creates a Manager whose uptime is measured from now.
func NewManager() *Manager {
	return &Manager{
		instances: make(map[uuid.UUID]*Instance),
		startTime: time.Now(),
	}
}

// Register creates (or returns the existing) counter set for id.
func (m *Manager) Register(id uuid.UUID) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst
	}
	inst := &Instance{}
	m.instances[id] = inst
	return inst
}

// Unregister drops the counters for id.
func (m *Manager) Unregister(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
}

// Get returns the counters for id, if registered.
func (m *Manager) Get(id uuid.UUID) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// totalActiveConnections sums connections_active across every registered
// instance, used by the system sampler.
func (m *Manager) totalActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, inst := range m.instances {
		sum += int64(inst.connectionsActive.Load())
	}
	return sum
}

// RunSampler samples OS-level memory and CPU usage every interval until ctx
// is cancelled. CPU sampling blocks for a short window per tick (gopsutil's
// interval-based measurement), so the sampler should run in its own
// goroutine.
func (m *Manager) RunSampler(ctx context.Context, interval time.Duration) {
	m.sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Manager) sample() {
	snap := SystemSnapshot{
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		ActiveConnections: m.totalActiveConnections(),
		LastUpdated:       time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.TotalMemoryMB = float64(vm.Total) / 1024 / 1024
		snap.UsedMemoryMB = float64(vm.Used) / 1024 / 1024
	}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUUsagePercent = pct[0]
	}

	m.sysMu.Lock()
	m.system = snap
	m.sysMu.Unlock()
}

// SystemSnapshot returns the most recently sampled process-wide snapshot.
func (m *Manager) SystemSnapshot() SystemSnapshot {
	m.sysMu.RLock()
	defer m.sysMu.RUnlock()
	return m.system
}
