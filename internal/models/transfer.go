package models

import "time"

const (
	ProtocolHTTP = "http"
	ProtocolFTP  = "ftp"
)

// TransferRecord is one finished transfer as kept in the history table.
type TransferRecord struct {
	ID         string    `json:"id"`
	Protocol   string    `json:"protocol"`
	Direction  string    `json:"direction"`
	Path       string    `json:"path"`
	Bytes      int64     `json:"bytes"`
	Chunks     int       `json:"chunks"`
	Retries    int       `json:"retries"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

type TransferProgress struct {
	ID        string `json:"id"`
	Protocol  string `json:"protocol"`
	Direction string `json:"direction"`
	Path      string `json:"path"`
	Chunk     int    `json:"chunk"`
	Bytes     int64  `json:"bytes"`
}
