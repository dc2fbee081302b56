package models

type DirectorySnapshot struct {
	DeviceID  string        `json:"device_id"`
	Timestamp string        `json:"timestamp"`
	Directory DirectoryInfo `json:"directory"`
}

type DirectoryInfo struct {
	Files      []FileInfo `json:"files"`
	TotalFiles int        `json:"total_files"`
	TotalSize  int64      `json:"total_size"`
}

type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Type     string `json:"type"`
}
