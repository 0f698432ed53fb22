package models

import "time"

// IPFilter is the wire representation of proxycfg.IPFilter.
type IPFilter struct {
	AllowList []string `json:"allow_list,omitempty"`
	DenyList  []string `json:"deny_list,omitempty"`
}

// InstanceResponse is the JSON shape of a registry.Definition.
type InstanceResponse struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ListenIP           string    `json:"listen_ip"`
	ListenPort         uint16    `json:"listen_port"`
	DstIP              string    `json:"dst_ip"`
	DstPort            uint16    `json:"dst_port"`
	Protocol           string    `json:"protocol"`
	ConnectTimeoutSecs uint64    `json:"connect_timeout_secs"`
	IdleTimeoutSecs    uint64    `json:"idle_timeout_secs"`
	LogLevel           string    `json:"log_level"`
	IPFilter           *IPFilter `json:"ip_filter,omitempty"`
	Status             string    `json:"status"`
	AutoStart          bool      `json:"auto_start"`
	CreatedAt          time.Time `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
}

// CreateInstanceRequest is the body of POST /instances.
type CreateInstanceRequest struct {
	Name               string    `json:"name" binding:"required"`
	ListenIP           string    `json:"listen_ip" binding:"required"`
	ListenPort         uint16    `json:"listen_port" binding:"required"`
	DstIP              string    `json:"dst_ip" binding:"required"`
	DstPort            uint16    `json:"dst_port" binding:"required"`
	Protocol           string    `json:"protocol" binding:"required"`
	ConnectTimeoutSecs uint64    `json:"connect_timeout_secs"`
	IdleTimeoutSecs    uint64    `json:"idle_timeout_secs"`
	LogLevel           string    `json:"log_level"`
	IPFilter           *IPFilter `json:"ip_filter,omitempty"`
	AutoStart          bool      `json:"auto_start"`
}

// UpdateInstanceRequest is the body of PUT /instances/{id}: every field is
// optional, and a nil field leaves the stored value unchanged.
type UpdateInstanceRequest struct {
	Name               *string   `json:"name,omitempty"`
	ListenIP           *string   `json:"listen_ip,omitempty"`
	ListenPort         *uint16   `json:"listen_port,omitempty"`
	DstIP              *string   `json:"dst_ip,omitempty"`
	DstPort            *uint16   `json:"dst_port,omitempty"`
	Protocol           *string   `json:"protocol,omitempty"`
	ConnectTimeoutSecs *uint64   `json:"connect_timeout_secs,omitempty"`
	IdleTimeoutSecs    *uint64   `json:"idle_timeout_secs,omitempty"`
	LogLevel           *string   `json:"log_level,omitempty"`
	IPFilter           *IPFilter `json:"ip_filter,omitempty"`
	ClearIPFilter      bool      `json:"clear_ip_filter,omitempty"`
	AutoStart          *bool     `json:"auto_start,omitempty"`
}

// ImportRequest is the body of POST /config/import.
type ImportRequest struct {
	Document string `json:"document" binding:"required"`
}

// ExportResponse is the body of GET /config/export.
type ExportResponse struct {
	Document string `json:"document"`
}
