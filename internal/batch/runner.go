package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-progress-engine/internal/cache"
	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/progress"
)

var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrCampaignInactive   = errors.New("campaign is not active")
	ErrCampaignNotVisible = errors.New("campaign is not visible to this usuario")
)

type Catalog interface {
	ActiveCampaigns(ctx context.Context) ([]engine.CampaignWithRules, error)
}

// SlugIndex is implemented by catalogs that can find a campaign by slug
// without listing every entry.
type SlugIndex interface {
	BySlug(slug string) (engine.CampaignWithRules, bool)
}

type ContextProvider interface {
	EvaluationContext(ctx context.Context, usuarioID int64) (engine.Context, error)
}

type MetricsFetcher interface {
	Fetch(ctx context.Context, usuarioID int64) (engine.Metrics, error)
}

type Evaluator interface {
	GetOrEvaluate(ctx context.Context, req progress.Request) (progress.Outcome, error)
}

// Person is the usuario being evaluated together with who they are.
type Person struct {
	ID      int64
	Context engine.Context
}

type Options struct {
	progress.Options
	// IncludeUpcoming keeps campaigns whose active range has not started or
	// has already ended.
	IncludeUpcoming bool
}

// CampaignProgress is one row of a usuario's campaign listing.
type CampaignProgress struct {
	Campaign    engine.Campaign         `json:"campaign"`
	Progress    engine.EvaluationResult `json:"progress"`
	FromCache   bool                    `json:"fromCache"`
	EvaluatedAt *time.Time              `json:"evaluatedAt,omitempty"`
}

// Runner evaluates many campaigns for one usuario against a single metrics
// snapshot.
type Runner struct {
	catalog  Catalog
	contexts ContextProvider
	metrics  MetricsFetcher
	eval     Evaluator
	now      func() time.Time
}

func NewRunner(catalog Catalog, contexts ContextProvider, metrics MetricsFetcher, eval Evaluator) *Runner {
	return &Runner{catalog: catalog, contexts: contexts, metrics: metrics, eval: eval, now: time.Now}
}

// EvaluatePerson evaluates entries in order. Metrics are fetched at most once
// and only if some campaign misses the cache; each evaluation gets its own
// copy. The first error aborts the batch.
func (r *Runner) EvaluatePerson(ctx context.Context, p Person, entries []engine.CampaignWithRules, opts progress.Options) ([]CampaignProgress, error) {
	memo := cache.NewMemo(func(ctx context.Context) (engine.Metrics, error) {
		return r.metrics.Fetch(ctx, p.ID)
	}, engine.Metrics.Clone)

	out := make([]CampaignProgress, 0, len(entries))
	for _, entry := range entries {
		outcome, err := r.eval.GetOrEvaluate(ctx, progress.Request{
			Campaign:  entry.Campaign,
			Rules:     entry.Rules,
			UsuarioID: p.ID,
			Context:   p.Context,
			Fetch:     memo.Get,
			Options:   opts,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate campaign %s: %w", entry.Campaign.ID, err)
		}
		row := CampaignProgress{
			Campaign:  entry.Campaign,
			Progress:  outcome.Result,
			FromCache: outcome.FromCache,
		}
		if outcome.Snapshot != nil && !outcome.Snapshot.EvaluatedAt.IsZero() {
			at := outcome.Snapshot.EvaluatedAt
			row.EvaluatedAt = &at
		}
		out = append(out, row)
	}
	return out, nil
}

// ListForPerson evaluates every campaign the usuario can currently see.
func (r *Runner) ListForPerson(ctx context.Context, usuarioID int64, opts Options) ([]CampaignProgress, error) {
	person, err := r.person(ctx, usuarioID)
	if err != nil {
		return nil, err
	}
	all, err := r.catalog.ActiveCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}

	now := r.now()
	visible := make([]engine.CampaignWithRules, 0, len(all))
	for _, entry := range all {
		if !opts.IncludeUpcoming && !entry.Campaign.IsActive(now) {
			continue
		}
		if !entry.VisibleTo(person.Context.SegmentIDs) {
			continue
		}
		visible = append(visible, entry)
	}
	log.Debug().Int64("usuario_id", usuarioID).Int("campaigns", len(visible)).Msg("listing campaign progress")
	return r.EvaluatePerson(ctx, person, visible, opts.Options)
}

// DetailForPerson evaluates the campaign with the given slug.
func (r *Runner) DetailForPerson(ctx context.Context, usuarioID int64, slug string, opts Options) (CampaignProgress, error) {
	entry, found, err := r.findBySlug(ctx, slug)
	if err != nil {
		return CampaignProgress{}, err
	}
	if !found {
		return CampaignProgress{}, ErrCampaignNotFound
	}
	if !opts.IncludeUpcoming && !entry.Campaign.IsActive(r.now()) {
		return CampaignProgress{}, ErrCampaignInactive
	}

	person, err := r.person(ctx, usuarioID)
	if err != nil {
		return CampaignProgress{}, err
	}
	if !entry.VisibleTo(person.Context.SegmentIDs) {
		return CampaignProgress{}, ErrCampaignNotVisible
	}
	rows, err := r.EvaluatePerson(ctx, person, []engine.CampaignWithRules{entry}, opts.Options)
	if err != nil {
		return CampaignProgress{}, err
	}
	return rows[0], nil
}

func (r *Runner) findBySlug(ctx context.Context, slug string) (engine.CampaignWithRules, bool, error) {
	if idx, ok := r.catalog.(SlugIndex); ok {
		entry, found := idx.BySlug(slug)
		return entry, found, nil
	}
	all, err := r.catalog.ActiveCampaigns(ctx)
	if err != nil {
		return engine.CampaignWithRules{}, false, fmt.Errorf("load campaigns: %w", err)
	}
	for _, c := range all {
		if c.Campaign.Slug == slug {
			return c, true, nil
		}
	}
	return engine.CampaignWithRules{}, false, nil
}

func (r *Runner) person(ctx context.Context, usuarioID int64) (Person, error) {
	ec, err := r.contexts.EvaluationContext(ctx, usuarioID)
	if err != nil {
		return Person{}, fmt.Errorf("resolve usuario %d: %w", usuarioID, err)
	}
	return Person{ID: usuarioID, Context: ec}, nil
}
