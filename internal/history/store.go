package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const (
	maxErrorLen = 500
	// fixed width so that started_at sorts as text
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store keeps finished transfers in a SQLite file.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and writes serial
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores rec, assigning an id when it has none.
func (s *Store) Record(ctx context.Context, rec models.TransferRecord) (models.TransferRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	msg := truncate(rec.Error, maxErrorLen)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transfers (id, protocol, direction, path, bytes, chunks, retries, outcome, error, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Protocol, rec.Direction, rec.Path, rec.Bytes, rec.Chunks, rec.Retries,
		rec.Outcome, msg, rec.StartedAt.UTC().Format(timeLayout), rec.DurationMs,
	)
	if err != nil {
		return rec, fmt.Errorf("record transfer %s: %w", rec.ID, err)
	}
	return rec, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Recent returns up to limit transfers, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, protocol, direction, path, bytes, chunks, retries, outcome, error, started_at, duration_ms
FROM transfers
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TransferRecord{}
	for rows.Next() {
		var rec models.TransferRecord
		var started string
		if err := rows.Scan(
			&rec.ID, &rec.Protocol, &rec.Direction, &rec.Path, &rec.Bytes, &rec.Chunks, &rec.Retries,
			&rec.Outcome, &rec.Error, &started, &rec.DurationMs,
		); err != nil {
			return nil, err
		}
		rec.StartedAt, err = time.Parse(timeLayout, started)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: bad started_at %q: %w", rec.ID, started, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
