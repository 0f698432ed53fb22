package forwarder

import (
	"context"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkvashchuk/l4proxyd/internal/accesscache"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
)

// echoServer accepts connections until stopped and echoes everything each
// one reads back to the caller until that connection closes.
func echoServer(t *testing.T) (addr netip.Addr, port uint16, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ip, _ := netip.AddrFromSlice(tcpAddr.IP.To4())
	return ip, uint16(tcpAddr.Port), func() { _ = ln.Close() }
}

func newTCPForwarder(t *testing.T, cfg proxycfg.Config) (*TCP, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f := &TCP{
		Config:  cfg,
		Pool:    pool.New(16, 16),
		Cache:   accesscache.New(64, time.Minute),
		Metrics: &metrics.Instance{},
	}
	return f, ctx, cancel
}

func TestTCP_EchoRoundTrip(t *testing.T) {
	dstIP, dstPort, stopEcho := echoServer(t)
	defer stopEcho()

	cfg := proxycfg.Config{
		ListenIP:           netip.MustParseAddr("127.0.0.1"),
		ListenPort:         0,
		DstIP:              dstIP,
		DstPort:            dstPort,
		Protocol:           proxycfg.ProtocolTCP,
		ConnectTimeoutSecs: 5,
		IdleTimeoutSecs:    5,
		LogLevel:           proxycfg.LogLevelInfo,
	}

	// Bind on an ephemeral port ourselves first so we know the listen port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	cfg.ListenPort = listenPort

	f, ctx, cancel := newTCPForwarder(t, cfg)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var dialErr error
		conn, dialErr = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(listenPort))))
		return dialErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not shut down")
	}

	assert.GreaterOrEqual(t, f.Metrics.Snapshot(time.Now()).BytesReceived, uint64(5))
	assert.GreaterOrEqual(t, f.Metrics.Snapshot(time.Now()).BytesSent, uint64(5))
}

func TestTCP_AccessCacheRejectsDeniedPeer(t *testing.T) {
	dstIP, dstPort, stopEcho := echoServer(t)
	defer stopEcho()

	cfg := proxycfg.Config{
		ListenIP:           netip.MustParseAddr("127.0.0.1"),
		DstIP:              dstIP,
		DstPort:            dstPort,
		Protocol:           proxycfg.ProtocolTCP,
		ConnectTimeoutSecs: 5,
		IdleTimeoutSecs:    5,
		LogLevel:           proxycfg.LogLevelInfo,
		IPFilter:           &proxycfg.IPFilter{DenyList: []netip.Addr{netip.MustParseAddr("127.0.0.1")}},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	cfg.ListenPort = listenPort

	f, ctx, cancel := newTCPForwarder(t, cfg)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var dialErr error
		conn, dialErr = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(listenPort))))
		return dialErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	assert.Error(t, err, "denied peer's connection should be closed immediately")

	cancel()
	<-done
}

func TestTCP_StopClosesIdleConnectionPromptly(t *testing.T) {
	dstIP, dstPort, stopEcho := echoServer(t)
	defer stopEcho()

	cfg := proxycfg.Config{
		ListenIP:           netip.MustParseAddr("127.0.0.1"),
		DstIP:              dstIP,
		DstPort:            dstPort,
		Protocol:           proxycfg.ProtocolTCP,
		ConnectTimeoutSecs: 5,
		IdleTimeoutSecs:    3600, // long idle timeout: cancellation must still close promptly
		LogLevel:           proxycfg.LogLevelInfo,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listenPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	cfg.ListenPort = listenPort

	f, ctx, cancel := newTCPForwarder(t, cfg)

	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var dialErr error
		conn, dialErr = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(listenPort))))
		return dialErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	start := time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not shut down within a second of cancellation")
	}
	assert.Less(t, time.Since(start), time.Second)

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	assert.Error(t, err, "client connection should be closed once the instance stops")
}
