package models

// InstanceStatsResponse is the JSON shape of one instance's metrics
// snapshot plus its live running state.
type InstanceStatsResponse struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Status              string  `json:"status"`
	IsRunning           bool    `json:"is_running"`
	BytesSent           uint64  `json:"bytes_sent"`
	BytesReceived       uint64  `json:"bytes_received"`
	ConnectionsActive   int32   `json:"connections_active"`
	ConnectionsTotal    uint32  `json:"connections_total"`
	Errors              uint32  `json:"errors"`
	BytesSentPerSec     float64 `json:"bytes_sent_per_sec"`
	BytesReceivedPerSec float64 `json:"bytes_received_per_sec"`
	ErrorRate           float64 `json:"error_rate"`
	UptimeSeconds       int64   `json:"uptime_seconds"`
}

// SessionMetricsResponse reports UDP session-table occupancy for one
// instance (or the TCP-derived equivalent: active connection count).
type SessionMetricsResponse struct {
	ID               string `json:"id"`
	ActiveSessions   int32  `json:"active_sessions"`
	ConnectionsTotal uint32 `json:"connections_total"`
}

// PerformanceResponse is the JSON shape of metrics.SystemSnapshot.
type PerformanceResponse struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	CPUUsagePercent   float64 `json:"cpu_usage_percent"`
	ActiveConnections int64   `json:"active_connections"`
	LastUpdated       string  `json:"last_updated"`
}
