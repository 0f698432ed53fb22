// Package udpsession tracks per-client-address UDP sessions so a stateless
// UDP forwarder can recognize returning clients, refresh their activity
// timestamp, and reap them after they go idle.
package udpsession

import (
	"context"
	"net/netip"
	"sync"
	"time"
)

// Session represents one client's UDP conversation with a destination. UDP
// itself carries no session concept; this is bookkeeping so the forwarder
// can report session counts, expire idle clients, and attach its own
// per-session upstream resource (an upstream *net.UDPConn in practice)
// without this package needing to know its type.
type Session struct {
	ClientAddr netip.AddrPort

	mu           sync.Mutex
	lastActivity time.Time
	resource     any
	ready        chan struct{}
}

func newSession(addr netip.AddrPort, now time.Time) *Session {
	return &Session{ClientAddr: addr, lastActivity: now, ready: make(chan struct{})}
}

// SetResource attaches the caller-defined upstream resource for this
// session and unblocks any goroutine waiting in Resource. Must be called
// exactly once, by whichever goroutine observed created=true from
// GetOrCreate.
func (s *Session) SetResource(r any) {
	s.mu.Lock()
	s.resource = r
	s.mu.Unlock()
	close(s.ready)
}

// Resource blocks until SetResource has been called (or ctx is cancelled)
// and returns the attached resource.
func (s *Session) Resource(ctx context.Context) (any, error) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.resource, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryResource returns the attached resource without blocking. ok is false if
// SetResource has not been called yet.
func (s *Session) TryResource() (resource any, ok bool) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.resource, true
	default:
		return nil, false
	}
}

// Touch refreshes the session's last-activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Table is the set of live sessions for one UDP forwarder instance.
type Table struct {
	mu       sync.Mutex
	sessions map[netip.AddrPort]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[netip.AddrPort]*Session)}
}

// GetOrCreate returns the existing session for addr, touching its activity
// timestamp, or creates a new one. created reports which happened. This
// never fails: the table binds no socket itself. The caller that sees
// created=true binds the session's upstream resource and attaches it with
// SetResource, or removes the session if that bind fails.
func (t *Table) GetOrCreate(addr netip.AddrPort, now time.Time) (sess *Session, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[addr]; ok {
		s.Touch(now)
		return s, false
	}
	s := newSession(addr, now)
	t.sessions[addr] = s
	return s, true
}

// Len returns the number of tracked sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Remove drops the session for addr, if any, and reports whether one was
// present. Idempotent: removing an unknown address is a no-op.
func (t *Table) Remove(addr netip.AddrPort) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[addr]
	if ok {
		delete(t.sessions, addr)
	}
	return s, ok
}

// All returns a snapshot of every tracked session, for shutdown teardown.
func (t *Table) All() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Reap removes every session idle for longer than timeout and returns the
// removed sessions so the caller can release any attached resource.
func (t *Table) Reap(now time.Time, timeout time.Duration) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []*Session
	for addr, s := range t.sessions {
		if s.idleSince(now) > timeout {
			delete(t.sessions, addr)
			removed = append(removed, s)
		}
	}
	return removed
}

// RunReaper periodically calls Reap at the given interval until stop is
// closed, using the idle timeout, invoking onExpire for every session it
// removes. It is intended to run in its own goroutine for the lifetime of a
// UDP forwarder.
func (t *Table) RunReaper(stop <-chan struct{}, interval, idleTimeout time.Duration, onExpire func(*Session)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, s := range t.Reap(now, idleTimeout) {
				if onExpire != nil {
					onExpire(s)
				}
			}
		}
	}
}
