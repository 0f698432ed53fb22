package udpsession

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_GetOrCreateReportsCreation(t *testing.T) {
	tbl := NewTable()
	addr := netip.MustParseAddrPort("10.0.0.1:5000")
	now := time.Now()

	s1, created1 := tbl.GetOrCreate(addr, now)
	require.True(t, created1)
	require.NotNil(t, s1)

	s2, created2 := tbl.GetOrCreate(addr, now.Add(time.Second))
	assert.False(t, created2)
	assert.Same(t, s1, s2)
}

func TestTable_GetOrCreateDistinctAddrsGetDistinctSessions(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	a, _ := tbl.GetOrCreate(netip.MustParseAddrPort("10.0.0.1:5000"), now)
	b, _ := tbl.GetOrCreate(netip.MustParseAddrPort("10.0.0.2:5000"), now)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_ReapRemovesOnlyExpiredSessions(t *testing.T) {
	tbl := NewTable()
	base := time.Now()

	tbl.GetOrCreate(netip.MustParseAddrPort("10.0.0.1:1"), base)
	tbl.GetOrCreate(netip.MustParseAddrPort("10.0.0.2:1"), base.Add(50*time.Millisecond))

	removed := tbl.Reap(base.Add(40*time.Millisecond), 30*time.Millisecond)
	assert.Len(t, removed, 1)
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_TouchPreventsReap(t *testing.T) {
	tbl := NewTable()
	base := time.Now()
	addr := netip.MustParseAddrPort("10.0.0.1:1")

	s, _ := tbl.GetOrCreate(addr, base)
	s.Touch(base.Add(20 * time.Millisecond))

	removed := tbl.Reap(base.Add(30*time.Millisecond), 15*time.Millisecond)
	assert.Len(t, removed, 0)
}

func TestTable_RunReaperStopsOnSignal(t *testing.T) {
	tbl := NewTable()
	tbl.GetOrCreate(netip.MustParseAddrPort("10.0.0.1:1"), time.Now())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		tbl.RunReaper(stop, 5*time.Millisecond, time.Millisecond, nil)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, tbl.Len(), "sessions idle past timeout should have been reaped")

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after signal")
	}
}
