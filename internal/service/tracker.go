package service

import (
	"context"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/google/uuid"
)

const (
	progressInterval = 250 * time.Millisecond
	recordTimeout    = 5 * time.Second
	// OutcomeFailed marks transfers that ended on an error other than an
	// exhausted retry budget.
	OutcomeFailed = "failed"
)

// Tracker follows one transfer, feeding progress to the browser and the
// final result to the history table.
type Tracker struct {
	svc          *Service
	rec          models.TransferRecord
	lastProgress time.Time
}

func (s *Service) Track(protocol string, dir transfer.Direction, path string) *Tracker {
	return &Tracker{
		svc: s,
		rec: models.TransferRecord{
			ID:        uuid.NewString(),
			Protocol:  protocol,
			Direction: string(dir),
			Path:      path,
			StartedAt: time.Now(),
		},
	}
}

func (t *Tracker) ID() string { return t.rec.ID }

// OnChunk is meant for transfer.Session.OnChunk. Updates are rate limited.
func (t *Tracker) OnChunk(p transfer.Progress) {
	now := time.Now()
	if now.Sub(t.lastProgress) < progressInterval {
		return
	}
	t.lastProgress = now
	t.svc.Broadcast(models.Message{
		Type: models.FeedMsgTransferProgress,
		Payload: models.TransferProgress{
			ID:        t.rec.ID,
			Protocol:  t.rec.Protocol,
			Direction: t.rec.Direction,
			Path:      t.rec.Path,
			Chunk:     p.Chunk,
			Bytes:     p.Bytes,
		},
	})
}

// Finish stores and announces the result of the transfer.
func (t *Tracker) Finish(res transfer.Result, err error) models.TransferRecord {
	rec := t.rec
	rec.Bytes = res.Bytes
	rec.Chunks = res.Chunks
	rec.Retries = res.Retries
	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()
	if outcome, ok := transfer.OutcomeOf(err); ok {
		rec.Outcome = string(outcome)
	} else {
		rec.Outcome = OutcomeFailed
	}
	if err != nil {
		rec.Error = err.Error()
	}

	logger.Log.Info("Transfer finished",
		"id", rec.ID,
		"protocol", rec.Protocol,
		"direction", rec.Direction,
		"path", rec.Path,
		"bytes", rec.Bytes,
		"retries", rec.Retries,
		"outcome", rec.Outcome,
	)

	if t.svc.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, herr := t.svc.history.Record(ctx, rec); herr != nil {
			logger.Log.Error("Failed to record transfer", "id", rec.ID, "err", herr)
		}
	}
	t.svc.Broadcast(models.Message{Type: models.FeedMsgTransferStatus, Payload: rec})
	return rec
}
