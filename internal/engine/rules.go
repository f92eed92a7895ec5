package engine

import (
	"slices"
	"strings"
)

// RuleConfig is the typed form of a rule's config. There is one variant per
// rule kind; ParseConfig picks it.
type RuleConfig interface {
	Kind() Kind
	check(v *metricsView, ec *evalContext) outcome
}

type outcome struct {
	passed  bool
	details map[string]any
	// invalid marks configs that could not be read; their weight is dropped.
	invalid bool
}

type evalContext struct {
	role         string
	segmentIDs   []string
	segmentSlugs []string
	idSet        map[string]struct{}
	slugSet      map[string]struct{}
}

func newEvalContext(c Context) *evalContext {
	ec := &evalContext{role: NormalizeRole(c.Role)}
	ec.segmentIDs, ec.idSet = lowerSet(c.SegmentIDs)
	ec.segmentSlugs, ec.slugSet = lowerSet(c.SegmentSlugs)
	return ec
}

func lowerSet(values []string) ([]string, map[string]struct{}) {
	list := make([]string, 0, len(values))
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		list = append(list, v)
	}
	return list, set
}

// ParseConfig reads raw into the variant for kind. It never fails: missing or
// malformed fields fall back to safe defaults.
func ParseConfig(kind Kind, raw map[string]any) RuleConfig {
	if raw == nil {
		raw = map[string]any{}
	}
	switch kind {
	case KindRole:
		return readRoleConfig(raw)
	case KindSegment:
		return readSegmentConfig(raw)
	case KindCountPolicies:
		return &CountPoliciesConfig{Field: resolveCountPoliciesField(raw), Comparators: readComparators(raw)}
	case KindTotalPremium:
		return &TotalPremiumConfig{Field: resolveTotalPremiumField(raw), Comparators: readComparators(raw)}
	case KindRCCount:
		field := stringField(raw, "field")
		if field == "" {
			field = "reclutas_calidad"
		}
		return &RCCountConfig{Field: field, Comparators: readComparators(raw)}
	case KindIndexThreshold:
		return readIndexThresholdConfig(raw)
	case KindTenureMonths:
		return &TenureConfig{Comparators: readComparators(raw)}
	case KindMetricCondition:
		return readMetricConditionConfig(raw)
	case KindCustomSQL:
		return readCustomSQLConfig(raw)
	}
	return unsupportedConfig{kind: kind}
}

// EvaluateRule runs a single rule. Negation is applied here for every kind.
func EvaluateRule(rule Rule, m Metrics, c Context) RuleResult {
	return evaluateRule(rule, newMetricsView(m), newEvalContext(c))
}

func evaluateRule(rule Rule, v *metricsView, ec *evalContext) RuleResult {
	out := ParseConfig(rule.Kind, rule.Config).check(v, ec)
	if out.details == nil {
		out.details = map[string]any{}
	}
	passed := out.passed
	if negate, _ := ToBool(rule.Config["negate"]); negate {
		passed = !passed
		out.details["negated"] = true
	}
	var weight *float64
	if !out.invalid {
		weight = NumberPtr(rule.Config["weight"])
	}
	return RuleResult{
		ID:          rule.ID,
		Passed:      passed,
		Scope:       ParseScope(string(rule.Scope)),
		Kind:        rule.Kind,
		Description: rule.Description,
		Weight:      weight,
		Details:     out.details,
	}
}

type unsupportedConfig struct{ kind Kind }

func (u unsupportedConfig) Kind() Kind { return u.kind }

func (u unsupportedConfig) check(*metricsView, *evalContext) outcome {
	return outcome{details: map[string]any{"reason": "rule_kind_not_supported"}, invalid: true}
}

type RoleConfig struct {
	Allow  []string
	Deny   []string
	weight *float64
}

func readRoleConfig(raw map[string]any) *RoleConfig {
	allow := append(ToStrings(first(raw, "allow", "allowedRoles")), ToStrings(raw["allowed"])...)
	deny := append(ToStrings(first(raw, "deny", "blockedRoles")), ToStrings(raw["denied"])...)
	return &RoleConfig{Allow: normalizeRoles(allow), Deny: normalizeRoles(deny), weight: NumberPtr(raw["weight"])}
}

func normalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range unique(in) {
		if n := NormalizeRole(r); n != "" {
			out = append(out, n)
		}
	}
	return unique(out)
}

func (c *RoleConfig) Kind() Kind { return KindRole }

func (c *RoleConfig) check(_ *metricsView, ec *evalContext) outcome {
	passed := true
	if len(c.Allow) > 0 || len(c.Deny) > 0 {
		switch {
		case ec.role == "":
			passed = false
		default:
			if len(c.Allow) > 0 {
				passed = slices.Contains(c.Allow, ec.role)
			}
			if passed && len(c.Deny) > 0 {
				passed = !slices.Contains(c.Deny, ec.role)
			}
		}
	}
	var role any
	if ec.role != "" {
		role = ec.role
	}
	details := map[string]any{"usuarioRol": role, "allowed": c.Allow, "denied": c.Deny}
	if c.weight != nil {
		details["weight"] = *c.weight
	}
	return outcome{passed: passed, details: details}
}

type SegmentConfig struct {
	All     []string
	Any     []string
	Exclude []string
	MatchBy string // "id" or "slug"
}

func readSegmentConfig(raw map[string]any) *SegmentConfig {
	all := ToStrings(raw["all"])
	all = append(all, ToStrings(first(raw, "allOf", "requireAll"))...)
	all = append(all, ToStrings(first(raw, "include", "required", "segments"))...)
	anyOf := append(ToStrings(raw["any"]), ToStrings(first(raw, "anyOf", "includeAny", "requireAny"))...)
	matchBy := "id"
	if s, _ := raw["matchBy"].(string); s == "slug" {
		matchBy = "slug"
	}
	return &SegmentConfig{
		All:     unique(all),
		Any:     unique(anyOf),
		Exclude: unique(ToStrings(first(raw, "exclude", "block", "disallow"))),
		MatchBy: matchBy,
	}
}

func (c *SegmentConfig) Kind() Kind { return KindSegment }

func (c *SegmentConfig) check(_ *metricsView, ec *evalContext) outcome {
	target := ec.idSet
	if c.MatchBy == "slug" {
		target = ec.slugSet
	}
	has := func(v string) bool {
		_, ok := target[strings.ToLower(strings.TrimSpace(v))]
		return ok
	}

	passed := true
	if len(c.All) > 0 {
		for _, v := range c.All {
			if !has(v) {
				passed = false
				break
			}
		}
	}
	if passed && len(c.Any) > 0 {
		passed = slices.ContainsFunc(c.Any, has)
	}
	if passed && len(c.Exclude) > 0 {
		passed = !slices.ContainsFunc(c.Exclude, has)
	}

	return outcome{passed: passed, details: map[string]any{
		"matchBy":      c.MatchBy,
		"segmentIds":   ec.segmentIDs,
		"segmentSlugs": ec.segmentSlugs,
		"requireAll":   c.All,
		"requireAny":   c.Any,
		"exclude":      c.Exclude,
	}}
}

type CountPoliciesConfig struct {
	Field string
	Comparators
}

func (c *CountPoliciesConfig) Kind() Kind { return KindCountPolicies }

func (c *CountPoliciesConfig) check(v *metricsView, _ *evalContext) outcome {
	value := NumberPtr(v.bucket("polizas")[c.Field])
	passed, details := c.Comparators.check(value, map[string]any{"field": c.Field})
	return outcome{passed: passed, details: details}
}

type TotalPremiumConfig struct {
	Field string
	Comparators
}

func (c *TotalPremiumConfig) Kind() Kind { return KindTotalPremium }

func (c *TotalPremiumConfig) check(v *metricsView, _ *evalContext) outcome {
	value := NumberPtr(v.bucket("polizas")[c.Field])
	passed, details := c.Comparators.check(value, map[string]any{"field": c.Field})
	return outcome{passed: passed, details: details}
}

type RCCountConfig struct {
	Field string
	Comparators
}

func (c *RCCountConfig) Kind() Kind { return KindRCCount }

func (c *RCCountConfig) check(v *metricsView, _ *evalContext) outcome {
	value := NumberPtr(v.bucket("rc")[c.Field])
	passed, details := c.Comparators.check(value, map[string]any{"field": c.Field})
	return outcome{passed: passed, details: details}
}

type TenureConfig struct {
	Comparators
}

func (c *TenureConfig) Kind() Kind { return KindTenureMonths }

func (c *TenureConfig) check(v *metricsView, _ *evalContext) outcome {
	value := NumberPtr(v.tree["tenure_meses"])
	passed, details := c.Comparators.check(value, map[string]any{"field": "tenure_meses"})
	return outcome{passed: passed, details: details}
}

// IndexCheck is one persistence index bound, e.g. indice_limra >= 0.8.
type IndexCheck struct {
	Name   string
	Field  string
	Source string
	Comparators
}

type IndexThresholdConfig struct {
	Single  IndexCheck
	Indices []IndexCheck
}

func readIndexCheck(raw map[string]any) IndexCheck {
	field := stringField(raw, "field")
	if field == "" {
		field = "indice_limra"
	}
	src, _ := raw["source"].(string)
	return IndexCheck{
		Name:        stringField(raw, "name", "label"),
		Field:       field,
		Source:      resolveMetricSource(src, field),
		Comparators: readComparators(raw),
	}
}

func readIndexThresholdConfig(raw map[string]any) *IndexThresholdConfig {
	cfg := &IndexThresholdConfig{}
	if list, ok := raw["indices"].([]any); ok && len(list) > 0 {
		for _, entry := range list {
			cfg.Indices = append(cfg.Indices, readIndexCheck(asObject(entry)))
		}
		return cfg
	}
	cfg.Single = readIndexCheck(raw)
	return cfg
}

func (c *IndexThresholdConfig) Kind() Kind { return KindIndexThreshold }

func (c *IndexThresholdConfig) check(v *metricsView, _ *evalContext) outcome {
	if len(c.Indices) == 0 {
		passed, details := c.Single.run(v)
		return outcome{passed: passed, details: details}
	}
	passedAll := true
	indices := make([]any, 0, len(c.Indices))
	for _, idx := range c.Indices {
		passed, details := idx.run(v)
		if !passed {
			passedAll = false
		}
		if idx.Name != "" {
			details["name"] = idx.Name
		}
		details["passed"] = passed
		indices = append(indices, details)
	}
	return outcome{passed: passedAll, details: map[string]any{"indices": indices}}
}

func (i IndexCheck) run(v *metricsView) (bool, map[string]any) {
	value := NumberPtr(v.bucket(i.Source)[i.Field])
	return i.Comparators.check(value, map[string]any{"field": i.Field, "source": i.Source})
}

type CustomSQLConfig struct {
	Desired *bool
	Message *string
}

func readCustomSQLConfig(raw map[string]any) *CustomSQLConfig {
	cfg := &CustomSQLConfig{}
	if b, ok := ToBool(raw["passed"]); ok {
		cfg.Desired = &b
	} else if b, ok := ToBool(raw["result"]); ok {
		cfg.Desired = &b
	}
	if s, ok := raw["message"].(string); ok {
		cfg.Message = &s
	}
	return cfg
}

func (c *CustomSQLConfig) Kind() Kind { return KindCustomSQL }

func (c *CustomSQLConfig) check(*metricsView, *evalContext) outcome {
	var desired, message any
	passed := false
	if c.Desired != nil {
		desired = *c.Desired
		passed = *c.Desired
	}
	if c.Message != nil {
		message = *c.Message
	}
	return outcome{passed: passed, details: map[string]any{"desired": desired, "message": message}}
}
