package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/feed"
	"github.com/The-Promised-Neverland/cardhost/internal/mime"
	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/internal/service"
	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/gin-gonic/gin"
)

const defaultTransferLimit = 50

type Handler struct {
	Service *service.Service
	Hub     *feed.Hub

	mime    *mime.Table
	pool    *transfer.BufferPool
	started time.Time
}

func NewHandler(s *service.Service, hub *feed.Hub, chunkSize int) *Handler {
	return &Handler{
		Service: s,
		Hub:     hub,
		mime:    mime.NewTable(),
		pool:    transfer.NewBufferPool(chunkSize),
		started: time.Now(),
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := models.HealthCheck{
		Status: "Healthy",
		Uptime: int64(time.Since(h.started).Seconds()),
	}
	resp := models.Message{
		Type:    "health_check",
		Payload: health,
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Status(c *gin.Context) {
	resp := models.Message{
		Type:    "status",
		Payload: h.Service.Status(),
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Volume(c *gin.Context) {
	snapshot, err := h.Service.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	resp := models.Message{
		Type:    models.FeedMsgVolumeSnapshot,
		Payload: snapshot,
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Transfers(c *gin.Context) {
	limit := defaultTransferLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	records, err := h.Service.RecentTransfers(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	resp := models.Message{
		Type:    "transfer_history",
		Payload: records,
	}
	c.JSON(http.StatusOK, resp)
}
