package service

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Broadcaster pushes a message to the browser feed without blocking.
type Broadcaster interface {
	Broadcast(msg models.Message) bool
	Connected() bool
}

// HistoryStore keeps finished transfers.
type HistoryStore interface {
	Record(ctx context.Context, rec models.TransferRecord) (models.TransferRecord, error)
	Recent(ctx context.Context, limit int) ([]models.TransferRecord, error)
}

// EndpointSource reports the public FTP endpoint, if known.
type EndpointSource interface {
	CurrentEndpoint() string
}

type Service struct {
	cfg      *config.Config
	vol      *volume.Volume
	history  HistoryStore
	feed     Broadcaster
	endpoint EndpointSource
}

func NewService(cfg *config.Config, vol *volume.Volume) *Service {
	return &Service{
		cfg: cfg,
		vol: vol,
	}
}

func (s *Service) SetHistory(h HistoryStore) { s.history = h }

func (s *Service) SetFeed(b Broadcaster) { s.feed = b }

func (s *Service) SetEndpoint(e EndpointSource) { s.endpoint = e }

func (s *Service) Volume() *volume.Volume { return s.vol }

func (s *Service) Config() *config.Config { return s.cfg }

func (s *Service) Broadcast(msg models.Message) bool {
	return s.feed != nil && s.feed.Broadcast(msg)
}

func (s *Service) GetHostMetrics() *models.HostMetrics {
	m := &models.HostMetrics{Timestamp: time.Now().Unix()}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(s.vol.Root()); err == nil {
		m.DiskUsage = diskStat.UsedPercent
	}
	if hostInfo, err := host.Info(); err == nil {
		m.Hostname = hostInfo.Hostname
		m.OS = hostInfo.OS
		m.Uptime = hostInfo.Uptime
	}
	return m
}

func (s *Service) Status() models.Status {
	st := models.Status{
		DeviceID:    s.cfg.DeviceID(),
		Host:        *s.GetHostMetrics(),
		Mounted:     s.vol.Mounted(),
		ActiveTasks: s.vol.ActiveTasks(),
	}
	if space, err := s.vol.Space(); err == nil {
		st.Volume = models.VolumeSpace(space)
	} else {
		logger.Log.Warn("Volume space unavailable", "err", err)
	}
	if s.feed != nil {
		st.FeedConnected = s.feed.Connected()
	}
	if s.endpoint != nil {
		st.FTPEndpoint = s.endpoint.CurrentEndpoint()
	}
	return st
}

// Snapshot walks the card and lists every entry with slash paths relative
// to the card root.
func (s *Service) Snapshot() (models.DirectorySnapshot, error) {
	root := s.vol.Root()
	files := []models.FileInfo{}
	var totalSize int64
	fileCount := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Log.Warn("Error accessing path", "path", path, "err", err)
			return nil
		}
		if path == root || strings.HasPrefix(d.Name(), ".wp-probe-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		fileInfo := models.FileInfo{
			Name:     info.Name(),
			Path:     "/" + filepath.ToSlash(relPath),
			Size:     info.Size(),
			Modified: info.ModTime().Format(time.RFC3339),
		}
		if info.IsDir() {
			fileInfo.Type = "directory"
			fileInfo.Size = 0
		} else {
			fileInfo.Type = "file"
			totalSize += info.Size()
			fileCount++
		}
		files = append(files, fileInfo)
		return nil
	})
	if err != nil {
		return models.DirectorySnapshot{}, err
	}
	return models.DirectorySnapshot{
		DeviceID:  s.cfg.DeviceID(),
		Timestamp: time.Now().Format(time.RFC3339),
		Directory: models.DirectoryInfo{
			Files:      files,
			TotalFiles: fileCount,
			TotalSize:  totalSize,
		},
	}, nil
}

// BroadcastSnapshot scans the card and pushes the result to the feed.
func (s *Service) BroadcastSnapshot() error {
	snapshot, err := s.Snapshot()
	if err != nil {
		return err
	}
	if s.Broadcast(models.Message{Type: models.FeedMsgVolumeSnapshot, Payload: snapshot}) {
		logger.Log.Info("Volume snapshot sent", "files", snapshot.Directory.TotalFiles)
	}
	return nil
}

func (s *Service) BroadcastMetrics() {
	s.Broadcast(models.Message{Type: models.FeedMsgHostMetrics, Payload: s.GetHostMetrics()})
}

func (s *Service) RecentTransfers(ctx context.Context, limit int) ([]models.TransferRecord, error) {
	if s.history == nil {
		return []models.TransferRecord{}, nil
	}
	return s.history.Recent(ctx, limit)
}
