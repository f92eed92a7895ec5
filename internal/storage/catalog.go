package storage

import (
	"context"
	"fmt"

	"campaign-progress-engine/internal/engine"
)

// LoadActiveCampaigns loads active campaigns with their rules (priority, id
// order) and linked segments.
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]engine.CampaignWithRules, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, slug, name, status, COALESCE(active_range::text, ''), primary_segment_id::text
		FROM campaigns
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var (
		out   []engine.CampaignWithRules
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			c      engine.Campaign
			status string
		)
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &status, &c.ActiveRange, &c.PrimarySegmentID); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Status = engine.NormalizeCampaignStatus(status)
		index[c.ID] = len(out)
		out = append(out, engine.CampaignWithRules{Campaign: c})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, c := range out {
		ids = append(ids, c.Campaign.ID)
	}
	if err := s.loadRules(ctx, ids, out, index); err != nil {
		return nil, err
	}
	if err := s.loadSegmentLinks(ctx, ids, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadRules(ctx context.Context, ids []string, out []engine.CampaignWithRules, index map[string]int) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, campaign_id::text, scope, rule_kind, COALESCE(config, '{}'::jsonb),
		       COALESCE(priority, 0), description, COALESCE(logical_group, 1), COALESCE(logical_operator, 'AND')
		FROM campaign_rules
		WHERE campaign_id::text = ANY($1)
		ORDER BY priority ASC, id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query campaign rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r           engine.Rule
			scope, kind string
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &scope, &kind, &r.Config, &r.Priority,
			&r.Description, &r.LogicalGroup, &r.LogicalOperator); err != nil {
			return fmt.Errorf("scan campaign rule: %w", err)
		}
		r.Scope = engine.ParseScope(scope)
		r.Kind = engine.Kind(kind)
		if i, ok := index[r.CampaignID]; ok {
			out[i].Rules = append(out[i].Rules, r)
		}
	}
	return rows.Err()
}

func (s *Store) loadSegmentLinks(ctx context.Context, ids []string, out []engine.CampaignWithRules, index map[string]int) error {
	rows, err := s.pool.Query(ctx, `
		SELECT campaign_id::text, segment_id::text
		FROM campaign_segments
		WHERE campaign_id::text = ANY($1)
		ORDER BY sort_order ASC, segment_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query campaign segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var campaignID, segmentID string
		if err := rows.Scan(&campaignID, &segmentID); err != nil {
			return fmt.Errorf("scan campaign segment: %w", err)
		}
		if i, ok := index[campaignID]; ok {
			out[i].SegmentIDs = append(out[i].SegmentIDs, segmentID)
		}
	}
	return rows.Err()
}

// EvaluationContext resolves the usuario's role and segment memberships.
func (s *Store) EvaluationContext(ctx context.Context, usuarioID int64) (engine.Context, error) {
	if usuarioID <= 0 {
		return engine.Context{}, ErrInvalidUsuarioID
	}
	var role *string
	if _, err := s.queryRow(ctx, `SELECT rol FROM usuarios WHERE id = $1`, []any{usuarioID}, &role); err != nil {
		return engine.Context{}, fmt.Errorf("query usuario role: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT us.segment_id::text, COALESCE(s.name, '')
		FROM user_segments us
		LEFT JOIN segments s ON s.id = us.segment_id
		WHERE us.usuario_id = $1
	`, usuarioID)
	if err != nil {
		return engine.Context{}, fmt.Errorf("query usuario segments: %w", err)
	}
	defer rows.Close()

	var out engine.Context
	if role != nil {
		out.Role = *role
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return engine.Context{}, fmt.Errorf("scan usuario segment: %w", err)
		}
		out.SegmentIDs = append(out.SegmentIDs, id)
		if name != "" {
			out.SegmentSlugs = append(out.SegmentSlugs, name)
		}
	}
	return out, rows.Err()
}
