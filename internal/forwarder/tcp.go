// Package forwarder implements the TCP and UDP data-plane pumps that move
// bytes between a client and an instance's configured destination.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rkvashchuk/l4proxyd/internal/accesscache"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
)

const tcpPumpBufferHint = 8192

// TCP forwards TCP connections from a listener to a fixed destination.
//
// Goroutine lifecycle: Run spawns one accept-loop goroutine. Each accepted
// connection spawns one handler goroutine, which in turn spawns two pump
// goroutines (client->server, server->client). All goroutines observe ctx
// and exit when it is cancelled; Run blocks until every spawned goroutine
// has returned.
type TCP struct {
	Config  proxycfg.Config
	Pool    *pool.BufferPool
	Cache   *accesscache.Cache
	Metrics *metrics.Instance
	Logger  *slog.Logger

	// Ready, if set, receives exactly one value once the listener has been
	// bound (nil) or bind failed (the error) — lets a caller driving Run in
	// its own goroutine learn the bind outcome without waiting for Run to
	// return, since Run otherwise blocks for the forwarder's whole lifetime.
	Ready chan<- error

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	pairsMu sync.Mutex
	pairs   map[*pairCloser]struct{}
}

// pairCloser closes both halves of one proxied connection exactly once,
// whichever of its two pumps finishes first. Closing both immediately
// unblocks whichever pump is still blocked on Read.
type pairCloser struct {
	once   sync.Once
	client net.Conn
	server net.Conn
}

func (p *pairCloser) Close() {
	p.once.Do(func() {
		_ = p.client.Close()
		_ = p.server.Close()
	})
}

// Run binds the listener and accepts connections until ctx is cancelled.
func (f *TCP) Run(ctx context.Context) error {
	addr := net.JoinHostPort(f.Config.ListenIP.String(), fmt.Sprint(f.Config.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("tcp forwarder: bind %s: %w", addr, err)
		if f.Ready != nil {
			f.Ready <- err
		}
		return err
	}
	if f.Ready != nil {
		f.Ready <- nil
	}
	f.mu.Lock()
	f.listener = ln
	f.mu.Unlock()
	f.pairsMu.Lock()
	f.pairs = make(map[*pairCloser]struct{})
	f.pairsMu.Unlock()

	if f.Logger != nil {
		f.Logger.InfoContext(ctx, "tcp forwarder listening", "addr", addr, "dst", f.dstAddr())
	}

	f.wg.Add(1)
	go f.acceptLoop(ctx, ln)

	<-ctx.Done()
	_ = ln.Close()
	f.closeAllPairs()
	f.wg.Wait()
	return nil
}

func (f *TCP) trackPair(p *pairCloser) {
	f.pairsMu.Lock()
	f.pairs[p] = struct{}{}
	f.pairsMu.Unlock()
}

func (f *TCP) untrackPair(p *pairCloser) {
	f.pairsMu.Lock()
	delete(f.pairs, p)
	f.pairsMu.Unlock()
}

// closeAllPairs force-closes every in-flight connection pair so their
// pumps unblock from Read immediately instead of waiting out idle_timeout.
// This is what lets a cancelled instance satisfy its 200ms shutdown grace.
func (f *TCP) closeAllPairs() {
	f.pairsMu.Lock()
	pairs := make([]*pairCloser, 0, len(f.pairs))
	for p := range f.pairs {
		pairs = append(pairs, p)
	}
	f.pairsMu.Unlock()
	for _, p := range pairs {
		p.Close()
	}
}

func (f *TCP) dstAddr() string {
	return net.JoinHostPort(f.Config.DstIP.String(), fmt.Sprint(f.Config.DstPort))
}

func (f *TCP) acceptLoop(ctx context.Context, ln net.Listener) {
	defer f.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if f.Logger != nil {
				f.Logger.WarnContext(ctx, "tcp accept failed", "error", err)
			}
			return
		}

		peer, ok := conn.RemoteAddr().(*net.TCPAddr)
		var peerIP netip.Addr
		if ok {
			peerIP, _ = netip.AddrFromSlice(peer.IP)
			peerIP = peerIP.Unmap()
		}

		if f.Cache != nil && peerIP.IsValid() {
			allowed := f.Cache.Check(peerIP, func(ip netip.Addr) bool {
				return f.Config.IPFilter.IsAllowed(ip)
			})
			if !allowed {
				if f.Logger != nil {
					f.Logger.WarnContext(ctx, "tcp connection rejected", "peer", peer)
				}
				_ = conn.Close()
				continue
			}
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handleConnection(ctx, conn)
		}()
	}
}

func (f *TCP) handleConnection(ctx context.Context, client net.Conn) {
	defer client.Close()

	dst := f.dstAddr()
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(f.Config.ConnectTimeoutSecs)*time.Second)
	defer cancel()

	var d net.Dialer
	server, err := d.DialContext(connectCtx, "tcp", dst)
	if err != nil {
		if f.Metrics != nil {
			f.Metrics.IncError()
		}
		if f.Logger != nil {
			f.Logger.WarnContext(ctx, "tcp connect to destination failed", "dst", dst, "error", err)
		}
		return
	}
	defer server.Close()

	if f.Metrics != nil {
		f.Metrics.IncConnectionOpened()
		defer f.Metrics.DecConnectionClosed()
	}

	idle := time.Duration(f.Config.IdleTimeoutSecs) * time.Second

	pair := &pairCloser{client: client, server: server}
	f.trackPair(pair)
	defer f.untrackPair(pair)

	// The handler returns as soon as either pump completes; it does not wait
	// for the other one. Closing both halves here is what terminates the
	// peer pump (its next Read errors).
	firstDone := make(chan struct{})
	var signalOnce sync.Once
	signalDone := func() { signalOnce.Do(func() { close(firstDone) }) }

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		n := f.pump(ctx, client, server, idle)
		if f.Metrics != nil && n > 0 {
			f.Metrics.AddBytesReceived(uint64(n))
		}
		signalDone()
	}()
	go func() {
		defer f.wg.Done()
		n := f.pump(ctx, server, client, idle)
		if f.Metrics != nil && n > 0 {
			f.Metrics.AddBytesSent(uint64(n))
		}
		signalDone()
	}()

	select {
	case <-firstDone:
	case <-ctx.Done():
	}
	pair.Close()
}

// pump copies from src to dst until EOF, an error, ctx cancellation, or idle
// timeout, returning the total bytes moved. It closes neither side itself:
// the handler's pairCloser unblocks the peer pump once this one exits.
func (f *TCP) pump(ctx context.Context, src net.Conn, dst net.Conn, idle time.Duration) int64 {
	buf, err := f.Pool.Acquire(ctx, tcpPumpBufferHint)
	if err != nil {
		return 0
	}
	defer buf.Release()

	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}
		if idle > 0 {
			_ = src.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := src.Read(buf.Bytes())
		if n > 0 {
			if _, werr := dst.Write(buf.Bytes()[:n]); werr != nil {
				return total
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total
			}
			return total
		}
	}
}
