package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/observability"
)

const DefaultTTL = 300 * time.Second

var errCorruptSnapshot = errors.New("progress: corrupt snapshot")

// Options tune a cached evaluation. A zero TTL means the service default.
type Options struct {
	TTL             time.Duration
	Force           bool
	FingerprintHint string
}

// Request is one (campaign, usuario) evaluation. Fetch is only called when the
// cached snapshot cannot be used.
type Request struct {
	Campaign  engine.Campaign
	Rules     []engine.Rule
	UsuarioID int64
	Context   engine.Context
	Fetch     func(ctx context.Context) (engine.Metrics, error)
	Options   Options
}

type Outcome struct {
	Result    engine.EvaluationResult
	FromCache bool
	Snapshot  *Snapshot
}

// Service is the cache layer in front of engine.Evaluate.
type Service struct {
	store SnapshotStore
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store SnapshotStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// Evaluate runs the rules without touching the cache.
func (s *Service) Evaluate(c engine.Campaign, rules []engine.Rule, m engine.Metrics, ec engine.Context) engine.EvaluationResult {
	res := engine.Evaluate(c, rules, m, ec)
	for _, r := range res.RuleResults {
		observability.RuleEvaluations.WithLabelValues(string(r.Kind), strconv.FormatBool(r.Passed)).Inc()
	}
	return res
}

// GetOrEvaluate returns the cached result when the stored snapshot is fresh,
// otherwise fetches metrics, evaluates and overwrites the snapshot.
func (s *Service) GetOrEvaluate(ctx context.Context, req Request) (Outcome, error) {
	opts := req.Options
	if opts.TTL == 0 {
		opts.TTL = s.ttl
	}
	logger := log.With().Str("campaign_id", req.Campaign.ID).Int64("usuario_id", req.UsuarioID).Logger()

	lookup := "forced"
	if !opts.Force {
		existing, err := s.store.GetSnapshot(ctx, req.Campaign.ID, req.UsuarioID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load progress snapshot: %w", err)
		}
		switch {
		case existing == nil:
			lookup = "miss"
		case !IsFresh(existing, opts.TTL, opts.FingerprintHint, s.now()):
			lookup = "stale"
		default:
			res, err := DecodeResult(*existing)
			if err == nil {
				observability.CacheLookups.WithLabelValues("hit").Inc()
				logger.Debug().Bool("from_cache", true).Msg("campaign progress")
				return Outcome{Result: res, FromCache: true, Snapshot: existing}, nil
			}
			logger.Warn().Err(err).Msg("unreadable progress snapshot, recomputing")
			lookup = "corrupt"
		}
	}
	observability.CacheLookups.WithLabelValues(lookup).Inc()

	metrics, err := req.Fetch(ctx)
	if err != nil {
		return Outcome{}, err
	}
	result := s.Evaluate(req.Campaign, req.Rules, metrics, req.Context)

	fingerprint := opts.FingerprintHint
	if fingerprint == "" {
		if fingerprint, err = Fingerprint(metrics); err != nil {
			return Outcome{}, err
		}
	}
	now := s.now().UTC()
	stored, err := encodeStoredMetrics(metrics, result.RuleResults, fingerprint, now)
	if err != nil {
		return Outcome{}, err
	}

	snap, err := s.store.UpsertSnapshot(ctx, Snapshot{
		CampaignID:  req.Campaign.ID,
		UsuarioID:   req.UsuarioID,
		Eligible:    result.Eligible,
		Progress:    result.Progress,
		Status:      result.Status,
		Metrics:     stored,
		EvaluatedAt: now,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save progress snapshot: %w", err)
	}
	logger.Debug().Bool("from_cache", false).Str("status", string(result.Status)).Msg("campaign progress")
	return Outcome{Result: result, FromCache: false, Snapshot: snap}, nil
}

// Invalidate drops the campaign's snapshots, or one usuario's.
func (s *Service) Invalidate(ctx context.Context, campaignID string, usuarioID *int64) (int64, error) {
	n, err := s.store.DeleteSnapshots(ctx, campaignID, usuarioID)
	if err != nil {
		return 0, fmt.Errorf("invalidate campaign %s: %w", campaignID, err)
	}
	return n, nil
}

// Sweep deletes snapshots evaluated more than maxAge ago.
func (s *Service) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.store.DeleteSnapshotsOlderThan(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("sweep progress snapshots: %w", err)
	}
	observability.SnapshotsSwept.Add(float64(n))
	return n, nil
}

func (s *Service) Summary(ctx context.Context, campaignID string) (Summary, error) {
	counts, err := s.store.CountByStatus(ctx, campaignID)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize campaign %s: %w", campaignID, err)
	}
	return NewSummary(campaignID, counts), nil
}

// IsFresh reports whether snap may be served for ttl. A non-empty hint must
// match the fingerprint stored with the snapshot.
func IsFresh(snap *Snapshot, ttl time.Duration, hint string, now time.Time) bool {
	if snap == nil || ttl <= 0 || snap.EvaluatedAt.IsZero() {
		return false
	}
	if now.Sub(snap.EvaluatedAt) > ttl {
		return false
	}
	if hint != "" {
		stored := storedFingerprint(snap.Metrics)
		return stored != "" && stored == hint
	}
	return true
}

// DecodeResult rebuilds an evaluation result from a snapshot alone.
func DecodeResult(snap Snapshot) (engine.EvaluationResult, error) {
	var m engine.Metrics
	if err := json.Unmarshal(snap.Metrics, &m); err != nil {
		return engine.EvaluationResult{}, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	switch snap.Status {
	case engine.ProgressNotEligible, engine.ProgressEligible, engine.ProgressCompleted:
	default:
		return engine.EvaluationResult{}, fmt.Errorf("%w: status %q", errCorruptSnapshot, snap.Status)
	}
	results := []engine.RuleResult{}
	if m.Meta != nil && m.Meta.RuleResults != nil {
		results = m.Meta.RuleResults
	}
	return engine.EvaluationResult{
		Eligible:    snap.Eligible,
		Progress:    snap.Progress,
		Status:      snap.Status,
		Metrics:     m,
		RuleResults: results,
	}, nil
}

func encodeStoredMetrics(m engine.Metrics, results []engine.RuleResult, fingerprint string, at time.Time) (json.RawMessage, error) {
	clone, err := m.Clone()
	if err != nil {
		return nil, fmt.Errorf("copy metrics: %w", err)
	}
	clone.Meta = &engine.Meta{
		Fingerprint: fingerprint,
		CachedAt:    at.Format(time.RFC3339Nano),
		RuleResults: results,
	}
	raw, err := json.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("encode stored metrics: %w", err)
	}
	return raw, nil
}
