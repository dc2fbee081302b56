package models

type HostMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Uptime      uint64  `json:"uptime"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

type VolumeSpace struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// Status is the answer to /api/v1/status.
type Status struct {
	DeviceID      string      `json:"device_id"`
	Host          HostMetrics `json:"host_metrics"`
	Volume        VolumeSpace `json:"volume"`
	Mounted       bool        `json:"mounted"`
	ActiveTasks   int         `json:"active_tasks"`
	FeedConnected bool        `json:"feed_connected"`
	FTPEndpoint   string      `json:"ftp_public_endpoint,omitempty"`
}
