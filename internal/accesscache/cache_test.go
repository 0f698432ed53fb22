package accesscache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ZeroCapacityFallsBackToOne(t *testing.T) {
	c := New(0, time.Minute)
	ip1 := netip.MustParseAddr("10.0.0.1")
	ip2 := netip.MustParseAddr("10.0.0.2")
	c.Check(ip1, func(netip.Addr) bool { return true })
	c.Check(ip2, func(netip.Addr) bool { return true })
	assert.LessOrEqual(t, c.Len(), 1)
}

func TestCache_CachesDecisionUntilTTL(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	ip := netip.MustParseAddr("192.168.1.1")

	calls := 0
	decide := func(netip.Addr) bool {
		calls++
		return true
	}

	require.True(t, c.Check(ip, decide))
	require.True(t, c.Check(ip, decide))
	assert.Equal(t, 1, calls, "second check within TTL must not invoke decide again")

	time.Sleep(60 * time.Millisecond)
	require.True(t, c.Check(ip, decide))
	assert.Equal(t, 2, calls, "check after TTL expiry must invoke decide again")
}

func TestCache_EvictsLRUBeyondCapacity(t *testing.T) {
	c := New(2, time.Hour)
	ips := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("10.0.0.3"),
	}
	for _, ip := range ips {
		c.Check(ip, func(netip.Addr) bool { return true })
	}
	assert.Equal(t, 2, c.Len())
}

func TestCache_DecisionReflectsPredicate(t *testing.T) {
	c := New(10, time.Hour)
	allow := netip.MustParseAddr("10.0.0.1")
	deny := netip.MustParseAddr("10.0.0.2")

	assert.True(t, c.Check(allow, func(ip netip.Addr) bool { return ip == allow }))
	assert.False(t, c.Check(deny, func(ip netip.Addr) bool { return ip == allow }))
}
