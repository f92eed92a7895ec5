package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalOne(t *testing.T, kind Kind, cfg map[string]any, m Metrics, c Context) RuleResult {
	t.Helper()
	return EvaluateRule(rule("r", ScopeEligibility, kind, 1, cfg), m, c)
}

func TestRoleRule(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		role string
		want bool
	}{
		{"no restriction", map[string]any{}, "", true},
		{"allowed", map[string]any{"allow": []any{"Agente", "admin"}}, "agente", true},
		{"not allowed", map[string]any{"allow": []any{"admin"}}, "agente", false},
		{"denied", map[string]any{"deny": "agente, lector"}, "agente", false},
		{"not denied", map[string]any{"denied": []any{"lector"}}, "agente", true},
		{"missing role", map[string]any{"deny": []any{"lector"}}, "", false},
		{"alias", map[string]any{"allowedRoles": []any{"super usuario"}}, "Super Usuario", true},
		{"allow and deny", map[string]any{"allow": []any{"agente"}, "deny": []any{"agente"}}, "agente", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalOne(t, KindRole, tt.cfg, Metrics{}, Context{Role: tt.role})
			assert.Equal(t, tt.want, res.Passed)
		})
	}
}

func TestSegmentRule(t *testing.T) {
	ctx := Context{SegmentIDs: []string{"seg-1", "SEG-2"}, SegmentSlugs: []string{"vip", "norte"}}
	tests := []struct {
		name string
		cfg  map[string]any
		want bool
	}{
		{"empty passes", map[string]any{}, true},
		{"all present", map[string]any{"all": []any{"seg-1", "seg-2"}}, true},
		{"all missing one", map[string]any{"include": []any{"seg-1", "seg-3"}}, false},
		{"any", map[string]any{"any": []any{"seg-9", "seg-1"}}, true},
		{"any none", map[string]any{"anyOf": []any{"seg-9"}}, false},
		{"exclude hit", map[string]any{"exclude": []any{"seg-2"}}, false},
		{"by slug", map[string]any{"matchBy": "slug", "all": []any{"VIP"}, "exclude": []any{"sur"}}, true},
		{"slug values are not ids", map[string]any{"all": []any{"vip"}}, false},
		{"all then exclude", map[string]any{"all": []any{"seg-1"}, "exclude": []any{"seg-1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalOne(t, KindSegment, tt.cfg, Metrics{}, ctx)
			assert.Equal(t, tt.want, res.Passed)
		})
	}
}

func TestNumericRules(t *testing.T) {
	m := Metrics{
		Polizas: &PolicyMetrics{
			Total: ptr(10.0), Vigentes: ptr(5.0), Anuladas: ptr(0.0),
			PrimaTotalMXN: ptr(120000.0), ComisionBaseMXN: ptr(15000.0),
		},
		RC:          &RecruitingMetrics{ReclutasCalidad: ptr(3.0)},
		TenureMeses: ptr(14),
	}
	tests := []struct {
		name string
		kind Kind
		cfg  map[string]any
		want bool
	}{
		{"count default field", KindCountPolicies, map[string]any{"min": 5}, true},
		{"count total", KindCountPolicies, map[string]any{"metric": "polizas_total", "gt": 9}, true},
		{"count anuladas eq zero", KindCountPolicies, map[string]any{"field": "anuladas", "eq": 0}, true},
		{"count no comparators", KindCountPolicies, map[string]any{"field": "vigentes"}, true},
		{"count max violated", KindCountPolicies, map[string]any{"max": "4"}, false},
		{"premium default", KindTotalPremium, map[string]any{"min": 100000}, true},
		{"premium alias", KindTotalPremium, map[string]any{"metric": "comisiones", "minimum": 20000}, false},
		{"premium missing field", KindTotalPremium, map[string]any{"metric": "ingresos", "min": 0}, false},
		{"rc default", KindRCCount, map[string]any{"min": 3, "lt": 4}, true},
		{"rc missing field", KindRCCount, map[string]any{"field": "permanencia", "min": 0}, false},
		{"tenure", KindTenureMonths, map[string]any{"min": 12, "max": 24}, true},
		{"tenure lt", KindTenureMonths, map[string]any{"lessThan": 14}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalOne(t, tt.kind, tt.cfg, m, Context{})
			assert.Equal(t, tt.want, res.Passed)
		})
	}
}

func TestNumericRule_AbsentIsNotZero(t *testing.T) {
	res := evalOne(t, KindTenureMonths, map[string]any{"max": 100}, Metrics{}, Context{})
	assert.False(t, res.Passed)
	assert.Nil(t, res.Details["value"])

	res = evalOne(t, KindTenureMonths, map[string]any{}, Metrics{}, Context{})
	assert.True(t, res.Passed)
}

func TestTotalPremiumResolvesAliases(t *testing.T) {
	res := evalOne(t, KindTotalPremium, map[string]any{"metric": "comisiones"}, Metrics{}, Context{})
	assert.Equal(t, "comision_base_mxn", res.Details["field"])
}

func TestIndexThreshold(t *testing.T) {
	m := Metrics{
		Cancelaciones: &CancellationMetrics{IndiceLimra: ptr(0.85), IndiceIGC: ptr(0.7)},
		Polizas:       &PolicyMetrics{MomentumVita: ptr(12.0)},
	}

	res := evalOne(t, KindIndexThreshold, map[string]any{"min": 0.8}, m, Context{})
	assert.True(t, res.Passed)
	assert.Equal(t, "cancelaciones", res.Details["source"])

	res = evalOne(t, KindIndexThreshold, map[string]any{
		"indices": []any{
			map[string]any{"field": "indice_limra", "min": 0.8, "name": "LIMRA"},
			map[string]any{"field": "indice_igc", "min": 0.75},
			map[string]any{"field": "momentum_vita", "gt": 10},
		},
	}, m, Context{})
	assert.False(t, res.Passed)
	indices, ok := res.Details["indices"].([]any)
	require.True(t, ok)
	require.Len(t, indices, 3)
	first := indices[0].(map[string]any)
	assert.Equal(t, "LIMRA", first["name"])
	assert.Equal(t, true, first["passed"])
	assert.Equal(t, 0.8, first["min"])
	assert.Equal(t, false, indices[1].(map[string]any)["passed"])
	assert.Equal(t, "polizas", indices[2].(map[string]any)["source"])
}

func TestMetricCondition(t *testing.T) {
	m := Metrics{
		Polizas:    &PolicyMetrics{PrimaTotalMXN: ptr(49999.99), Total: ptr(3.0)},
		Candidatos: &CandidateMetrics{UltimoMesConexion: ptr("2024-05")},
		Datasets: map[string]map[string]Value{
			"polizas_prima_minima": {"prima_25000": Number(2), "prima_50000": Number(0)},
			"polizas_recientes":    {"ventana_365": Number(4)},
			"clasificacion_asesor": {"nivel": Text("Oro"), "producto_ids": Text("1,2,3")},
		},
	}
	tests := []struct {
		name string
		cfg  map[string]any
		want bool
	}{
		{"gte below", map[string]any{"dataset": "polizas", "field": "prima_total_mxn", "operator": "gte", "value": 50000}, false},
		{"lt", map[string]any{"dataset": "polizas", "field": "prima_total_mxn", "operator": "lt", "value": "50000"}, true},
		{"registry path", map[string]any{"dataset": "polizas", "field": "polizas_total", "operator": "eq", "value": 3}, true},
		{"explicit path", map[string]any{"dataset": "x", "field": "y", "path": "polizas.total", "operator": "neq", "value": 4}, true},
		{"numeric vs text fails", map[string]any{"dataset": "clasificacion_asesor", "field": "nivel", "operator": "neq", "value": 1}, false},
		{"text eq ignores case", map[string]any{"dataset": "clasificacion_asesor", "field": "nivel", "operator": "eq", "value": "oro", "valueType": "text"}, true},
		{"text contains", map[string]any{"dataset": "candidatos", "field": "ultimo_mes_conexion", "operator": "contains", "value": "2024", "valueType": "text"}, true},
		{"text not_contains empty", map[string]any{"dataset": "clasificacion_asesor", "field": "nivel", "operator": "not_contains", "value": "", "valueType": "text"}, false},
		{"text in", map[string]any{"dataset": "clasificacion_asesor", "field": "nivel", "operator": "in", "value": "plata, ORO", "valueType": "text"}, true},
		{"numeric in", map[string]any{"dataset": "polizas", "field": "polizas_total", "operator": "in", "value": "1,3,5"}, true},
		{"bucket prima", map[string]any{"dataset": "polizas_prima_minima", "field": "cantidad", "operator": "gte", "value": 2, "prima_minima_mxn": 25000}, true},
		{"bucket prima missing key", map[string]any{"dataset": "polizas_prima_minima", "field": "cantidad", "operator": "gte", "value": 0, "prima_minima_mxn": 10000}, false},
		{"bucket ventana", map[string]any{"dataset": "polizas_recientes", "field": "cantidad", "operator": "gt", "value": 3, "dias_ventana": "365"}, true},
		{"unknown dataset", map[string]any{"dataset": "nope", "field": "x", "operator": "eq", "value": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalOne(t, KindMetricCondition, tt.cfg, m, Context{})
			assert.Equal(t, tt.want, res.Passed)
		})
	}

	m.Polizas.PrimaTotalMXN = ptr(50000.0)
	res := evalOne(t, KindMetricCondition, tests[0].cfg, m, Context{})
	assert.True(t, res.Passed)
}

func TestMalformedConfigsFailWithReason(t *testing.T) {
	res := evalOne(t, KindMetricCondition, map[string]any{"dataset": "polizas", "operator": "between"}, Metrics{}, Context{})
	assert.False(t, res.Passed)
	assert.Equal(t, "invalid_metric_config", res.Details["reason"])

	res = evalOne(t, Kind("LOTTERY"), map[string]any{"weight": 3}, Metrics{}, Context{})
	assert.False(t, res.Passed)
	assert.Equal(t, "rule_kind_not_supported", res.Details["reason"])
	assert.Nil(t, res.Weight)

	res = EvaluateRule(Rule{ID: "nil-config", Kind: KindCountPolicies}, Metrics{}, Context{})
	assert.True(t, res.Passed)
}

func TestCustomSQL(t *testing.T) {
	tests := []struct {
		cfg  map[string]any
		want bool
	}{
		{map[string]any{}, false},
		{map[string]any{"passed": true}, true},
		{map[string]any{"result": "si"}, true},
		{map[string]any{"passed": "maybe", "result": 1}, true},
		{map[string]any{"passed": false, "result": true}, false},
	}
	for _, tt := range tests {
		res := evalOne(t, KindCustomSQL, tt.cfg, Metrics{}, Context{})
		assert.Equal(t, tt.want, res.Passed, "%v", tt.cfg)
	}
}

func TestNegationFlipsOnlyPassed(t *testing.T) {
	m := Metrics{Polizas: &PolicyMetrics{Vigentes: ptr(5.0)}}
	cfg := map[string]any{"min": 5, "weight": 2}
	plain := evalOne(t, KindCountPolicies, cfg, m, Context{})

	negCfg := map[string]any{"min": 5, "weight": 2, "negate": "true"}
	negated := evalOne(t, KindCountPolicies, negCfg, m, Context{})

	assert.Equal(t, !plain.Passed, negated.Passed)
	assert.Equal(t, true, negated.Details["negated"])
	delete(negated.Details, "negated")
	assert.Equal(t, plain.Details, negated.Details)
	assert.Equal(t, plain.Weight, negated.Weight)
	assert.Equal(t, plain.ID, negated.ID)
}

func TestRuleResultsSurviveJSON(t *testing.T) {
	res := evalOne(t, KindSegment, map[string]any{"any": []any{"a"}}, Metrics{}, Context{SegmentIDs: []string{"a"}})
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var back RuleResult
	require.NoError(t, json.Unmarshal(raw, &back))
	again, err := json.Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}
