package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rkvashchuk/l4proxyd/internal/accesscache"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
	"github.com/rkvashchuk/l4proxyd/internal/udpsession"
)

const (
	udpPumpBufferHint      = 65535
	defaultSessionTimeout  = 300 * time.Second
	defaultCleanupInterval = 60 * time.Second
)

// UDP forwards datagrams from a single listening socket to a fixed
// destination, tracking one session per client address so replies from the
// destination can be routed back to the right client.
//
// Upstream path: each session owns an upstream socket. The receive loop
// forwards the client's datagrams to the destination through that socket,
// and the session's response pump reads the destination's replies on it
// and relays them to the client via the listen socket; see DESIGN.md.
type UDP struct {
	Config          proxycfg.Config
	Pool            *pool.BufferPool
	Cache           *accesscache.Cache
	Metrics         *metrics.Instance
	Logger          *slog.Logger
	SessionTimeout  time.Duration
	CleanupInterval time.Duration

	// Ready, if set, receives exactly one value once the listen socket has
	// been bound (nil) or bind failed (the error). See TCP.Ready.
	Ready chan<- error

	sessions *udpsession.Table
	wg       sync.WaitGroup
}

// Run binds the listen socket and serves until ctx is cancelled.
func (f *UDP) Run(ctx context.Context) error {
	addr := net.JoinHostPort(f.Config.ListenIP.String(), fmt.Sprint(f.Config.ListenPort))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		err = fmt.Errorf("udp forwarder: resolve %s: %w", addr, err)
		if f.Ready != nil {
			f.Ready <- err
		}
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		err = fmt.Errorf("udp forwarder: bind %s: %w", addr, err)
		if f.Ready != nil {
			f.Ready <- err
		}
		return err
	}
	if f.Ready != nil {
		f.Ready <- nil
	}

	f.sessions = udpsession.NewTable()
	sessionTimeout := f.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	cleanupInterval := f.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	if f.Logger != nil {
		f.Logger.InfoContext(ctx, "udp forwarder listening", "addr", addr, "dst", f.dstAddr())
	}

	stopReaper := make(chan struct{})
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.sessions.RunReaper(stopReaper, cleanupInterval, sessionTimeout, func(s *udpsession.Session) {
			f.closeSessionResource(s)
		})
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.receiveLoop(ctx, conn)
	}()

	<-ctx.Done()
	close(stopReaper)
	_ = conn.Close()
	f.closeAllSessions()
	f.wg.Wait()
	return nil
}

func (f *UDP) dstAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(f.Config.DstIP.AsSlice()), Port: int(f.Config.DstPort)}
}

func (f *UDP) closeSessionResource(s *udpsession.Session) {
	if res, ok := s.TryResource(); ok {
		if c, ok := res.(*net.UDPConn); ok {
			_ = c.Close()
		}
	}
}

// closeAllSessions force-closes every session's upstream socket so response
// pumps unblock from ReadFromUDP immediately on shutdown.
func (f *UDP) closeAllSessions() {
	for _, s := range f.sessions.All() {
		f.closeSessionResource(s)
	}
}

func (f *UDP) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	buf, err := f.Pool.Acquire(ctx, udpPumpBufferHint)
	if err != nil {
		return
	}
	defer buf.Release()

	dst := f.dstAddr()
	for {
		if ctx.Err() != nil {
			return
		}
		n, peer, err := conn.ReadFromUDP(buf.Bytes())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if f.Logger != nil {
				f.Logger.WarnContext(ctx, "udp receive failed", "error", err)
			}
			return
		}

		peerIP, ok := netip.AddrFromSlice(peer.IP)
		if !ok {
			continue
		}
		peerIP = peerIP.Unmap()

		if f.Cache != nil {
			allowed := f.Cache.Check(peerIP, func(ip netip.Addr) bool {
				return f.Config.IPFilter.IsAllowed(ip)
			})
			if !allowed {
				if f.Logger != nil {
					f.Logger.WarnContext(ctx, "udp packet rejected", "peer", peer)
				}
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf.Bytes()[:n])

		sessAddr := netip.AddrPortFrom(peerIP, uint16(peer.Port))
		sess, created := f.sessions.GetOrCreate(sessAddr, time.Now())
		if created {
			upstream, err := f.bindUpstream(peerIP)
			if err != nil {
				if f.Metrics != nil {
					f.Metrics.IncError()
				}
				if f.Logger != nil {
					f.Logger.WarnContext(ctx, "udp session bind failed", "peer", peer, "error", err)
				}
				f.sessions.Remove(sessAddr)
				continue
			}
			sess.SetResource(upstream)
			if f.Metrics != nil {
				f.Metrics.IncConnectionOpened()
			}
			f.wg.Add(1)
			go func() {
				defer f.wg.Done()
				defer func() {
					if f.Metrics != nil {
						f.Metrics.DecConnectionClosed()
					}
				}()
				f.responsePump(ctx, upstream, conn, peer, sessAddr)
			}()
		}

		res, _ := sess.TryResource()
		upstreamConn, ok := res.(*net.UDPConn)
		if !ok {
			continue
		}
		if _, err := upstreamConn.WriteToUDP(data, dst); err != nil {
			if f.Metrics != nil {
				f.Metrics.IncError()
			}
			if f.Logger != nil {
				f.Logger.WarnContext(ctx, "udp forward to destination failed", "dst", dst, "error", err)
			}
			continue
		}
		if f.Metrics != nil {
			f.Metrics.AddBytesReceived(uint64(n))
		}
	}
}

func (f *UDP) bindUpstream(peerIP netip.Addr) (*net.UDPConn, error) {
	network := "udp4"
	bindAddr := &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	if peerIP.Is6() && !peerIP.Is4In6() {
		network = "udp6"
		bindAddr = &net.UDPAddr{IP: net.IPv6zero, Port: 0}
	}
	return net.ListenUDP(network, bindAddr)
}

// responsePump reads destination replies off the session's upstream socket
// and relays them to the client via the shared listen socket, until ctx is
// cancelled or the upstream socket errors (idle close, shutdown). It always
// removes its session on exit.
func (f *UDP) responsePump(ctx context.Context, upstream *net.UDPConn, listen *net.UDPConn, peer *net.UDPAddr, sessAddr netip.AddrPort) {
	defer upstream.Close()
	defer f.sessions.Remove(sessAddr)

	buf, err := f.Pool.Acquire(ctx, udpPumpBufferHint)
	if err != nil {
		return
	}
	defer buf.Release()

	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := upstream.ReadFromUDP(buf.Bytes())
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && f.Logger != nil {
				f.Logger.DebugContext(ctx, "udp response socket closed", "peer", peer, "error", err)
			}
			return
		}

		if _, err := listen.WriteToUDP(buf.Bytes()[:n], peer); err != nil {
			if f.Logger != nil {
				f.Logger.WarnContext(ctx, "udp response to client failed", "peer", peer, "error", err)
			}
			return
		}
		if f.Metrics != nil {
			f.Metrics.AddBytesSent(uint64(n))
		}
	}
}
