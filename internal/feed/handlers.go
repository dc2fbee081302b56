package feed

import (
	"github.com/The-Promised-Neverland/cardhost/internal/models"
)

// Source answers the requests a browser may send over the feed.
type Source interface {
	Snapshot() (models.DirectorySnapshot, error)
	GetHostMetrics() *models.HostMetrics
}

// RegisterDefaultHandlers wires the browser requests to src.
func (h *Hub) RegisterDefaultHandlers(src Source) {
	h.RegisterHandler(models.BrowserMsgSnapshotRequest, func(c *Connection, msg *models.Message) error {
		snapshot, err := src.Snapshot()
		if err != nil {
			return err
		}
		h.Send(c, models.Message{Type: models.FeedMsgVolumeSnapshot, Payload: snapshot})
		return nil
	})

	h.RegisterHandler(models.BrowserMsgMetricsRequest, func(c *Connection, msg *models.Message) error {
		h.Send(c, models.Message{Type: models.FeedMsgHostMetrics, Payload: src.GetHostMetrics()})
		return nil
	})
}
