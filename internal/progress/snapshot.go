package progress

import (
	"context"
	"encoding/json"
	"time"

	"campaign-progress-engine/internal/engine"
)

// Snapshot is the cached outcome of one evaluation. There is at most one per
// (CampaignID, UsuarioID). Metrics holds the metrics document with meta
// attached, including the rule results.
type Snapshot struct {
	ID          string                `json:"id"`
	CampaignID  string                `json:"campaign_id"`
	UsuarioID   int64                 `json:"usuario_id"`
	Eligible    bool                  `json:"eligible"`
	Progress    float64               `json:"progress"`
	Status      engine.ProgressStatus `json:"status"`
	Metrics     json.RawMessage       `json:"metrics"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// SnapshotStore persists snapshots. Upsert must keep a single row per
// (campaign, usuario); concurrent writers converge on the last write.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, campaignID string, usuarioID int64) (*Snapshot, error)
	UpsertSnapshot(ctx context.Context, s Snapshot) (*Snapshot, error)
	// DeleteSnapshots drops every snapshot of the campaign, or only the
	// given usuario's when usuarioID is not nil.
	DeleteSnapshots(ctx context.Context, campaignID string, usuarioID *int64) (int64, error)
	DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, campaignID string) (map[string]int64, error)
}

// Summary aggregates the cached snapshots of one campaign.
type Summary struct {
	CampaignID     string           `json:"campaignId"`
	Total          int64            `json:"total"`
	EligibleTotal  int64            `json:"eligibleTotal"`
	CompletedTotal int64            `json:"completedTotal"`
	StatusCounts   map[string]int64 `json:"statusCounts"`
}

// NewSummary derives the totals from per-status counts. eligibleTotal counts
// every eligible snapshot, completed ones included.
func NewSummary(campaignID string, counts map[string]int64) Summary {
	s := Summary{CampaignID: campaignID, StatusCounts: map[string]int64{}}
	for status, n := range counts {
		if n <= 0 {
			continue
		}
		s.StatusCounts[status] = n
		s.Total += n
	}
	s.CompletedTotal = s.StatusCounts[string(engine.ProgressCompleted)]
	s.EligibleTotal = s.StatusCounts[string(engine.ProgressEligible)] + s.CompletedTotal
	return s
}
