package engine

import "strings"

type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// NormalizeCampaignStatus returns the canonical status or "" when unknown.
func NormalizeCampaignStatus(s string) CampaignStatus {
	switch v := CampaignStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignArchived:
		return v
	}
	return ""
}

// Campaign is read-only to the engine; it is authored elsewhere.
type Campaign struct {
	ID               string         `json:"id"`
	Slug             string         `json:"slug"`
	Name             string         `json:"name"`
	Status           CampaignStatus `json:"status"`
	ActiveRange      string         `json:"active_range"` // postgres range literal, e.g. [2025-01-01,2025-12-31)
	PrimarySegmentID *string        `json:"primary_segment_id"`
}

type Scope string

const (
	ScopeEligibility Scope = "eligibility"
	ScopeGoal        Scope = "goal"
)

// ParseScope maps anything that is not "goal" to eligibility.
func ParseScope(s string) Scope {
	if strings.ToLower(strings.TrimSpace(s)) == string(ScopeGoal) {
		return ScopeGoal
	}
	return ScopeEligibility
}

type Kind string

const (
	KindRole            Kind = "ROLE"
	KindSegment         Kind = "SEGMENT"
	KindCountPolicies   Kind = "COUNT_POLICIES"
	KindTotalPremium    Kind = "TOTAL_PREMIUM"
	KindRCCount         Kind = "RC_COUNT"
	KindIndexThreshold  Kind = "INDEX_THRESHOLD"
	KindTenureMonths    Kind = "TENURE_MONTHS"
	KindMetricCondition Kind = "METRIC_CONDITION"
	KindCustomSQL       Kind = "CUSTOM_SQL"
)

var ruleKinds = []Kind{
	KindRole, KindSegment, KindCountPolicies, KindTotalPremium, KindRCCount,
	KindIndexThreshold, KindTenureMonths, KindMetricCondition, KindCustomSQL,
}

func (k Kind) Valid() bool {
	for _, v := range ruleKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Rule is one campaign_rules row. Config shape depends on Kind.
// LogicalGroup defaults to 1 when unset; see EffectiveGroup.
// LogicalOperator is authored by the admin UI and never read here.
type Rule struct {
	ID              string         `json:"id"`
	CampaignID      string         `json:"campaign_id"`
	Scope           Scope          `json:"scope"`
	Kind            Kind           `json:"rule_kind"`
	Config          map[string]any `json:"config"`
	Priority        int            `json:"priority"`
	Description     *string        `json:"description"`
	LogicalGroup    int            `json:"logical_group"`
	LogicalOperator string         `json:"logical_operator,omitempty"`
}

// EffectiveGroup is the logical group the combinator uses. Unset and
// non-positive groups belong to group 1.
func (r Rule) EffectiveGroup() int {
	if r.LogicalGroup <= 0 {
		return 1
	}
	return r.LogicalGroup
}

type RuleResult struct {
	ID          string         `json:"id"`
	Passed      bool           `json:"passed"`
	Scope       Scope          `json:"scope"`
	Kind        Kind           `json:"kind"`
	Description *string        `json:"description"`
	Weight      *float64       `json:"weight"`
	Details     map[string]any `json:"details"`
}

type ProgressStatus string

const (
	ProgressNotEligible ProgressStatus = "not_eligible"
	ProgressEligible    ProgressStatus = "eligible"
	ProgressCompleted   ProgressStatus = "completed"
)

type EvaluationResult struct {
	Eligible    bool           `json:"eligible"`
	Progress    float64        `json:"progress"`
	Status      ProgressStatus `json:"status"`
	Metrics     Metrics        `json:"metrics"`
	RuleResults []RuleResult   `json:"ruleResults"`
}

// Context describes who is being evaluated.
type Context struct {
	Role         string   `json:"usuarioRol,omitempty"`
	SegmentIDs   []string `json:"segmentIds,omitempty"`
	SegmentSlugs []string `json:"segmentSlugs,omitempty"`
}
