package engine

import (
	"slices"
	"strings"
)

// Progress is the combined outcome of a rule set.
type Progress struct {
	Eligible bool
	Progress float64
	Status   ProgressStatus
}

// SortRules orders rules by priority, then id. The input is not modified.
func SortRules(rules []Rule) []Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b Rule) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Evaluate is pure: the same campaign, rules, metrics and context always
// produce the same result. The campaign is accepted for symmetry with the
// cached path; evaluation depends only on rules and metrics.
func Evaluate(_ Campaign, rules []Rule, metrics Metrics, c Context) EvaluationResult {
	sorted := SortRules(rules)
	view := newMetricsView(metrics)
	ec := newEvalContext(c)

	results := make([]RuleResult, 0, len(sorted))
	for _, r := range sorted {
		results = append(results, evaluateRule(r, view, ec))
	}

	p := Combine(sorted, results)
	return EvaluationResult{
		Eligible:    p.Eligible,
		Progress:    p.Progress,
		Status:      p.Status,
		Metrics:     metrics,
		RuleResults: results,
	}
}

// Combine applies the group algebra: rules sharing a logical group are ANDed,
// groups within a scope are ORed, and an empty scope passes.
func Combine(rules []Rule, results []RuleResult) Progress {
	byID := make(map[string]RuleResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	var eligRules, goalRules []Rule
	for _, r := range rules {
		if ParseScope(string(r.Scope)) == ScopeGoal {
			goalRules = append(goalRules, r)
		} else {
			eligRules = append(eligRules, r)
		}
	}

	if !groupsPass(eligRules, byID) {
		return Progress{Status: ProgressNotEligible}
	}
	if len(goalRules) == 0 || groupsPass(goalRules, byID) {
		return Progress{Eligible: true, Progress: 1, Status: ProgressCompleted}
	}

	// Partial credit spans both scopes; weight is not applied.
	passed, total := 0, len(eligRules)+len(goalRules)
	for _, r := range rules {
		if byID[r.ID].Passed {
			passed++
		}
	}
	return Progress{Eligible: true, Progress: roundTo(float64(passed)/float64(total), 3), Status: ProgressEligible}
}

func groupsPass(rules []Rule, byID map[string]RuleResult) bool {
	if len(rules) == 0 {
		return true
	}
	groups := map[int]bool{}
	for _, r := range rules {
		ok, g := byID[r.ID].Passed, r.EffectiveGroup()
		if prev, seen := groups[g]; seen {
			groups[g] = prev && ok
		} else {
			groups[g] = ok
		}
	}
	for _, ok := range groups {
		if ok {
			return true
		}
	}
	return false
}
