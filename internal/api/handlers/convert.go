package handlers

import (
	"fmt"
	"net/netip"

	"github.com/rkvashchuk/l4proxyd/internal/api/models"
	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

func toInstanceResponse(d *registry.Definition) models.InstanceResponse {
	resp := models.InstanceResponse{
		ID:                 d.ID.String(),
		Name:               d.Name,
		ListenIP:           d.Config.ListenIP.String(),
		ListenPort:         d.Config.ListenPort,
		DstIP:              d.Config.DstIP.String(),
		DstPort:            d.Config.DstPort,
		Protocol:           string(d.Config.Protocol),
		ConnectTimeoutSecs: d.Config.ConnectTimeoutSecs,
		IdleTimeoutSecs:    d.Config.IdleTimeoutSecs,
		LogLevel:           string(d.Config.LogLevel),
		Status:             string(d.Status),
		AutoStart:          d.AutoStart,
		CreatedAt:          d.CreatedAt,
		StartedAt:          d.StartedAt,
		LastError:          d.LastError,
	}
	if d.Config.IPFilter != nil {
		resp.IPFilter = toIPFilterResponse(d.Config.IPFilter)
	}
	return resp
}

func toIPFilterResponse(f *proxycfg.IPFilter) *models.IPFilter {
	out := &models.IPFilter{}
	for _, a := range f.AllowList {
		out.AllowList = append(out.AllowList, a.String())
	}
	for _, a := range f.DenyList {
		out.DenyList = append(out.DenyList, a.String())
	}
	return out
}

func parseIPFilter(f *models.IPFilter) (*proxycfg.IPFilter, error) {
	if f == nil {
		return nil, nil
	}
	out := &proxycfg.IPFilter{}
	for _, s := range f.AllowList {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid allow_list entry %q: %w", s, err)
		}
		out.AllowList = append(out.AllowList, addr)
	}
	for _, s := range f.DenyList {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid deny_list entry %q: %w", s, err)
		}
		out.DenyList = append(out.DenyList, addr)
	}
	return out, nil
}

// configFromCreate builds a proxycfg.Config from a create request, applying
// defaults for the fields the original allows to be omitted.
func configFromCreate(req models.CreateInstanceRequest) (proxycfg.Config, error) {
	listenIP, err := netip.ParseAddr(req.ListenIP)
	if err != nil {
		return proxycfg.Config{}, fmt.Errorf("invalid listen_ip %q: %w", req.ListenIP, err)
	}
	dstIP, err := netip.ParseAddr(req.DstIP)
	if err != nil {
		return proxycfg.Config{}, fmt.Errorf("invalid dst_ip %q: %w", req.DstIP, err)
	}
	filter, err := parseIPFilter(req.IPFilter)
	if err != nil {
		return proxycfg.Config{}, err
	}

	connectTimeout := req.ConnectTimeoutSecs
	if connectTimeout == 0 {
		connectTimeout = 30
	}
	idleTimeout := req.IdleTimeoutSecs
	if idleTimeout == 0 {
		idleTimeout = 300
	}
	logLevel := req.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	return proxycfg.Config{
		ListenIP:           listenIP,
		ListenPort:         req.ListenPort,
		DstIP:              dstIP,
		DstPort:            req.DstPort,
		Protocol:           proxycfg.Protocol(req.Protocol),
		ConnectTimeoutSecs: connectTimeout,
		IdleTimeoutSecs:    idleTimeout,
		LogLevel:           proxycfg.LogLevel(logLevel),
		IPFilter:           filter,
	}, nil
}

// patchFromUpdate builds a registry.Patch from an update request.
func patchFromUpdate(req models.UpdateInstanceRequest) (registry.Patch, error) {
	var patch registry.Patch
	patch.Name = req.Name
	patch.ListenPort = req.ListenPort
	patch.DstPort = req.DstPort
	patch.ConnectTimeoutSecs = req.ConnectTimeoutSecs
	patch.IdleTimeoutSecs = req.IdleTimeoutSecs
	patch.AutoStart = req.AutoStart

	if req.ListenIP != nil {
		addr, err := netip.ParseAddr(*req.ListenIP)
		if err != nil {
			return patch, fmt.Errorf("invalid listen_ip %q: %w", *req.ListenIP, err)
		}
		patch.ListenIP = &addr
	}
	if req.DstIP != nil {
		addr, err := netip.ParseAddr(*req.DstIP)
		if err != nil {
			return patch, fmt.Errorf("invalid dst_ip %q: %w", *req.DstIP, err)
		}
		patch.DstIP = &addr
	}
	if req.Protocol != nil {
		p := proxycfg.Protocol(*req.Protocol)
		patch.Protocol = &p
	}
	if req.LogLevel != nil {
		l := proxycfg.LogLevel(*req.LogLevel)
		patch.LogLevel = &l
	}
	if req.ClearIPFilter {
		var nilFilter *proxycfg.IPFilter
		patch.IPFilter = &nilFilter
	} else if req.IPFilter != nil {
		filter, err := parseIPFilter(req.IPFilter)
		if err != nil {
			return patch, err
		}
		patch.IPFilter = &filter
	}
	return patch, nil
}
