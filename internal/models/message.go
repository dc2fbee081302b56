package models

const (
	FeedMsgHello            = "feed_hello"
	FeedMsgHostMetrics      = "host_metrics"
	FeedMsgVolumeSnapshot   = "volume_snapshot"
	FeedMsgTransferProgress = "transfer_progress"
	FeedMsgTransferStatus   = "transfer_status"
)

const (
	BrowserMsgSnapshotRequest = "volume_snapshot_request"
	BrowserMsgMetricsRequest  = "metrics_request"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type HealthCheck struct {
	Status string `json:"sys_status"`
	Uptime int64  `json:"uptime"`
}

type FeedHello struct {
	ConnectionID string `json:"connection_id"`
	DeviceID     string `json:"device_id"`
	Timestamp    int64  `json:"timestamp"`
}
