// Package proxycfg defines the per-instance proxy configuration: listen and
// destination endpoints, protocol, timeouts, log level, and optional IP
// filtering, along with the validation rules a definition must satisfy
// before an instance can start.
package proxycfg

import (
	"errors"
	"fmt"
	"net/netip"
)

// Protocol selects which transport(s) a proxy instance forwards.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolBoth Protocol = "both"
)

func (p Protocol) valid() bool {
	switch p {
	case ProtocolTCP, ProtocolUDP, ProtocolBoth:
		return true
	default:
		return false
	}
}

// LogLevel is the per-instance logging verbosity.
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
	LogLevelTrace LogLevel = "trace"
)

var validLogLevels = []LogLevel{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace}

func (l LogLevel) valid() bool {
	for _, v := range validLogLevels {
		if l == v {
			return true
		}
	}
	return false
}

// IPFilter restricts which client addresses a proxy instance admits. At
// most one of AllowList or DenyList may be set; an empty IPFilter with both
// nil admits everyone.
type IPFilter struct {
	AllowList []netip.Addr `toml:"allow_list,omitempty" json:"allow_list,omitempty"`
	DenyList  []netip.Addr `toml:"deny_list,omitempty" json:"deny_list,omitempty"`
}

// IsAllowed reports whether ip may connect under this filter.
func (f *IPFilter) IsAllowed(ip netip.Addr) bool {
	if f == nil {
		return true
	}
	if f.AllowList != nil {
		for _, a := range f.AllowList {
			if a == ip {
				return true
			}
		}
		return false
	}
	if f.DenyList != nil {
		for _, a := range f.DenyList {
			if a == ip {
				return false
			}
		}
		return true
	}
	return true
}

// Config is the full configuration for a single proxy instance.
type Config struct {
	ListenIP           netip.Addr `toml:"listen_ip" json:"listen_ip"`
	ListenPort         uint16     `toml:"listen_port" json:"listen_port"`
	DstIP              netip.Addr `toml:"dst_ip" json:"dst_ip"`
	DstPort            uint16     `toml:"dst_port" json:"dst_port"`
	Protocol           Protocol   `toml:"protocol" json:"protocol"`
	ConnectTimeoutSecs uint64     `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	IdleTimeoutSecs    uint64     `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
	LogLevel           LogLevel   `toml:"log_level" json:"log_level"`
	IPFilter           *IPFilter  `toml:"ip_filter,omitempty" json:"ip_filter,omitempty"`
}

// Validate checks the configuration against every invariant a running
// instance depends on. It returns the first violation found, matching the
// ordering used by the reference implementation this behavior was modeled
// on.
func (c *Config) Validate() error {
	if c.ListenPort == 0 {
		return errors.New("listen port cannot be 0")
	}
	if c.DstPort == 0 {
		return errors.New("destination port cannot be 0")
	}
	if c.ConnectTimeoutSecs == 0 {
		return errors.New("connect timeout must be greater than 0")
	}
	if c.IdleTimeoutSecs == 0 {
		return errors.New("idle timeout must be greater than 0")
	}
	if c.ConnectTimeoutSecs > 300 {
		return errors.New("connect timeout cannot exceed 300 seconds")
	}
	if c.IdleTimeoutSecs > 3600 {
		return errors.New("idle timeout cannot exceed 3600 seconds")
	}
	if !c.Protocol.valid() {
		return fmt.Errorf("invalid protocol %q: must be one of tcp, udp, both", c.Protocol)
	}
	if !c.LogLevel.valid() {
		return fmt.Errorf("invalid log level %q: must be one of error, warn, info, debug, trace", c.LogLevel)
	}
	if c.ListenPort == c.DstPort && c.ListenIP == c.DstIP {
		return errors.New("listen and destination cannot be the same address and port")
	}

	if c.IPFilter != nil {
		if c.IPFilter.AllowList != nil {
			if len(c.IPFilter.AllowList) == 0 {
				return errors.New("allow list cannot be empty")
			}
			if dup, ok := firstDuplicate(c.IPFilter.AllowList); ok {
				return fmt.Errorf("duplicate IP address in allow list: %s", dup)
			}
		}
		if c.IPFilter.DenyList != nil {
			if len(c.IPFilter.DenyList) == 0 {
				return errors.New("deny list cannot be empty")
			}
			if dup, ok := firstDuplicate(c.IPFilter.DenyList); ok {
				return fmt.Errorf("duplicate IP address in deny list: %s", dup)
			}
		}
		if c.IPFilter.AllowList != nil && c.IPFilter.DenyList != nil {
			return errors.New("cannot specify both allow_list and deny_list")
		}
	}

	return nil
}

// LoopbackMismatch reports whether the instance listens on loopback but
// forwards to a non-loopback destination. This is not a validation error,
// only a condition worth warning about at startup.
func (c *Config) LoopbackMismatch() bool {
	return c.ListenIP.IsLoopback() && !c.DstIP.IsLoopback()
}

func firstDuplicate(addrs []netip.Addr) (netip.Addr, bool) {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			return a, true
		}
		seen[a] = struct{}{}
	}
	return netip.Addr{}, false
}
