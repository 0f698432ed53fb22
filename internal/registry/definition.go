// Package registry holds the authoritative set of proxy instance
// definitions and drives their lifecycle through the supervisor, backed by
// a pluggable persistence port.
package registry

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
)

// Status is an instance's place in the supervisor's lifecycle state
// machine. Only the supervisor mutates it.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Definition is one proxy instance's identity plus its mutable profile.
// ID never changes after creation; everything else can be updated.
type Definition struct {
	ID        uuid.UUID
	Name      string
	Config    proxycfg.Config
	Status    Status
	AutoStart bool
	CreatedAt time.Time
	StartedAt *time.Time

	// LastError carries the bind failure message when Status is
	// StatusError, cleared on the next successful start.
	LastError string
}

// Clone returns a deep copy so callers (handlers, the supervisor's config
// snapshot) never observe or race on the registry's own copy.
func (d *Definition) Clone() *Definition {
	c := *d
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.Config.IPFilter != nil {
		f := *d.Config.IPFilter
		f.AllowList = append([]netip.Addr(nil), d.Config.IPFilter.AllowList...)
		f.DenyList = append([]netip.Addr(nil), d.Config.IPFilter.DenyList...)
		c.Config.IPFilter = &f
	}
	return &c
}

// CreateRequest is the validated input to Registry.Create.
type CreateRequest struct {
	Name      string
	Config    proxycfg.Config
	AutoStart bool
}

// Patch is a partial update applied to an existing Definition. A nil field
// leaves the corresponding value unchanged. IPFilter is a double pointer so
// a caller can distinguish "don't touch the filter" (nil) from "clear the
// filter" (non-nil pointer to a nil *IPFilter).
type Patch struct {
	Name               *string
	ListenIP           *netip.Addr
	ListenPort         *uint16
	DstIP              *netip.Addr
	DstPort            *uint16
	Protocol           *proxycfg.Protocol
	ConnectTimeoutSecs *uint64
	IdleTimeoutSecs    *uint64
	LogLevel           *proxycfg.LogLevel
	IPFilter           **proxycfg.IPFilter
	AutoStart          *bool
}

// Apply overwrites d's fields with every non-nil field of p.
func (p Patch) Apply(d *Definition) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.ListenIP != nil {
		d.Config.ListenIP = *p.ListenIP
	}
	if p.ListenPort != nil {
		d.Config.ListenPort = *p.ListenPort
	}
	if p.DstIP != nil {
		d.Config.DstIP = *p.DstIP
	}
	if p.DstPort != nil {
		d.Config.DstPort = *p.DstPort
	}
	if p.Protocol != nil {
		d.Config.Protocol = *p.Protocol
	}
	if p.ConnectTimeoutSecs != nil {
		d.Config.ConnectTimeoutSecs = *p.ConnectTimeoutSecs
	}
	if p.IdleTimeoutSecs != nil {
		d.Config.IdleTimeoutSecs = *p.IdleTimeoutSecs
	}
	if p.LogLevel != nil {
		d.Config.LogLevel = *p.LogLevel
	}
	if p.IPFilter != nil {
		d.Config.IPFilter = *p.IPFilter
	}
	if p.AutoStart != nil {
		d.AutoStart = *p.AutoStart
	}
}
