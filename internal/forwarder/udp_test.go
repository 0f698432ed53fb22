package forwarder

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkvashchuk/l4proxyd/internal/accesscache"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
)

// udpEchoServer binds an ephemeral UDP socket and echoes every datagram back
// to whoever sent it.
func udpEchoServer(t *testing.T) (addr netip.Addr, port uint16, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 65535)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(buf[:n], peer)
		}
	}()

	laddr := conn.LocalAddr().(*net.UDPAddr)
	ip, _ := netip.AddrFromSlice(laddr.IP.To4())
	return ip, uint16(laddr.Port), func() { _ = conn.Close() }
}

func newUDPForwarder(cfg proxycfg.Config) (*UDP, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &UDP{
		Config:          cfg,
		Pool:            pool.New(16, 16),
		Cache:           accesscache.New(64, time.Minute),
		Metrics:         &metrics.Instance{},
		SessionTimeout:  200 * time.Millisecond,
		CleanupInterval: 50 * time.Millisecond,
	}
	return f, ctx, cancel
}

func TestUDP_RoundTrip(t *testing.T) {
	dstIP, dstPort, stopEcho := udpEchoServer(t)
	defer stopEcho()

	lnProbe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	listenPort := uint16(lnProbe.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, lnProbe.Close())

	cfg := proxycfg.Config{
		ListenIP:           netip.MustParseAddr("127.0.0.1"),
		ListenPort:         listenPort,
		DstIP:              dstIP,
		DstPort:            dstPort,
		Protocol:           proxycfg.ProtocolUDP,
		ConnectTimeoutSecs: 5,
		IdleTimeoutSecs:    5,
		LogLevel:           proxycfg.LogLevelInfo,
	}

	f, ctx, cancel := newUDPForwarder(cfg)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	// Give the listener a moment to bind.
	var client *net.UDPConn
	require.Eventually(t, func() bool {
		c, dialErr := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(listenPort)})
		if dialErr != nil {
			return false
		}
		client = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("udp forwarder did not shut down")
	}
}

func TestUDP_SessionReclamation(t *testing.T) {
	dstIP, dstPort, stopEcho := udpEchoServer(t)
	defer stopEcho()

	lnProbe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	listenPort := uint16(lnProbe.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, lnProbe.Close())

	cfg := proxycfg.Config{
		ListenIP:           netip.MustParseAddr("127.0.0.1"),
		ListenPort:         listenPort,
		DstIP:              dstIP,
		DstPort:            dstPort,
		Protocol:           proxycfg.ProtocolUDP,
		ConnectTimeoutSecs: 5,
		IdleTimeoutSecs:    5,
		LogLevel:           proxycfg.LogLevelInfo,
	}

	f, ctx, cancel := newUDPForwarder(cfg)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	dial := func() *net.UDPConn {
		var c *net.UDPConn
		require.Eventually(t, func() bool {
			var dialErr error
			c, dialErr = net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(listenPort)})
			return dialErr == nil
		}, 2*time.Second, 10*time.Millisecond)
		return c
	}

	c1 := dial()
	defer c1.Close()
	c2 := dial()
	defer c2.Close()

	_, err = c1.Write([]byte("a"))
	require.NoError(t, err)
	_, err = c2.Write([]byte("b"))
	require.NoError(t, err)
	_, err = c1.Write([]byte("c"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_ = c1.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = c1.Read(buf)
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = c2.Read(buf)

	require.Eventually(t, func() bool {
		return f.sessions.Len() == 2
	}, time.Second, 10*time.Millisecond, "expected exactly two tracked sessions")

	require.Eventually(t, func() bool {
		return f.sessions.Len() == 0
	}, 2*time.Second, 20*time.Millisecond, "idle sessions should be reaped")

	cancel()
	<-done
}
