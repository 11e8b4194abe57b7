package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Research run statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusFallback  = "fallback"
	RunStatusFailed    = "failed"
)

// SourceRef is one cited source attached to a persisted run.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RunRecord is a persisted research run with its outcome metadata.
type RunRecord struct {
	ID            string
	UserID        string
	Query         string
	Tier          string
	Workflow      string
	Status        string
	Response      string
	Sources       []SourceRef
	TokensUsed    int
	GroundingRate float64
	DurationMs    int64
	CreatedAt     time.Time
}

// InsertRun persists a finished run. A missing ID is generated.
func (s *Store) InsertRun(ctx context.Context, rec RunRecord) (RunRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UserID == "" {
		return RunRecord{}, fmt.Errorf("user_id must be provided")
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal sources: %w", err)
	}
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO research_runs (id, user_id, query, tier, workflow, status, response, sources, tokens_used, grounding_rate, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
RETURNING created_at
`, rec.ID, rec.UserID, rec.Query, rec.Tier, rec.Workflow, rec.Status, rec.Response, sources, rec.TokensUsed, rec.GroundingRate, rec.DurationMs).Scan(&rec.CreatedAt)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// GetRun fetches one run by id. Bool indicates whether it exists.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, query, tier, workflow, status, response, sources, tokens_used, grounding_rate, duration_ms, created_at
FROM research_runs WHERE id=$1
`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// ListRunsByUser returns a user's most recent runs, newest first.
func (s *Store) ListRunsByUser(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, query, tier, workflow, status, response, sources, tokens_used, grounding_rate, duration_ms, created_at
FROM research_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var sources []byte
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Tier, &rec.Workflow, &rec.Status,
		&rec.Response, &sources, &rec.TokensUsed, &rec.GroundingRate, &rec.DurationMs, &rec.CreatedAt); err != nil {
		return RunRecord{}, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &rec.Sources); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	return rec, nil
}
