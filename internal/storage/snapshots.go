package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/progress"
)

const snapshotColumns = `id::text, campaign_id::text, usuario_id, eligible, progress::float8, status, metrics,
	evaluated_at, created_at, updated_at`

var _ progress.SnapshotStore = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (progress.Snapshot, error) {
	var (
		s       progress.Snapshot
		status  string
		metrics []byte
	)
	if err := row.Scan(&s.ID, &s.CampaignID, &s.UsuarioID, &s.Eligible, &s.Progress, &status,
		&metrics, &s.EvaluatedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return progress.Snapshot{}, err
	}
	s.Status = engine.ProgressStatus(status)
	s.Metrics = json.RawMessage(metrics)
	return s, nil
}

// GetSnapshot returns nil when no snapshot exists.
func (s *Store) GetSnapshot(ctx context.Context, campaignID string, usuarioID int64) (*progress.Snapshot, error) {
	snap, found, err := s.getSnapshot(ctx, campaignID, usuarioID)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) getSnapshot(ctx context.Context, campaignID string, usuarioID int64) (progress.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+`
		FROM campaign_progress
		WHERE campaign_id = $1 AND usuario_id = $2`, campaignID, usuarioID)
	snap, err := scanSnapshot(row)
	if isNoRows(err) {
		return progress.Snapshot{}, false, nil
	}
	if err != nil {
		return progress.Snapshot{}, false, fmt.Errorf("query campaign progress: %w", err)
	}
	return snap, true, nil
}

// UpsertSnapshot relies on the (campaign_id, usuario_id) unique key; the last
// writer wins and the row id is preserved.
func (s *Store) UpsertSnapshot(ctx context.Context, snap progress.Snapshot) (*progress.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO campaign_progress (campaign_id, usuario_id, eligible, progress, status, metrics, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (campaign_id, usuario_id) DO UPDATE SET
			eligible     = EXCLUDED.eligible,
			progress     = EXCLUDED.progress,
			status       = EXCLUDED.status,
			metrics      = EXCLUDED.metrics,
			evaluated_at = EXCLUDED.evaluated_at,
			updated_at   = now()
		RETURNING `+snapshotColumns,
		snap.CampaignID, snap.UsuarioID, snap.Eligible, snap.Progress, string(snap.Status),
		string(snap.Metrics), snap.EvaluatedAt)
	saved, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("upsert campaign progress: %w", err)
	}
	return &saved, nil
}

func (s *Store) DeleteSnapshots(ctx context.Context, campaignID string, usuarioID *int64) (int64, error) {
	q := psql.Delete("campaign_progress").Where(squirrel.Eq{"campaign_id": campaignID})
	if usuarioID != nil {
		q = q.Where(squirrel.Eq{"usuario_id": *usuarioID})
	}
	return s.execDelete(ctx, q)
}

func (s *Store) DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execDelete(ctx, psql.Delete("campaign_progress").Where(squirrel.Lt{"evaluated_at": cutoff}))
}

func (s *Store) execDelete(ctx context.Context, q squirrel.DeleteBuilder) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete campaign progress: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountByStatus(ctx context.Context, campaignID string) (map[string]int64, error) {
	sql, args, err := psql.Select("status", "count(*)").
		From("campaign_progress").
		Where(squirrel.Eq{"campaign_id": campaignID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query progress summary: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan progress summary: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
