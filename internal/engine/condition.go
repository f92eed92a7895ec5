package engine

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

type Operator string

const (
	OpGT          Operator = "gt"
	OpGTE         Operator = "gte"
	OpLT          Operator = "lt"
	OpLTE         Operator = "lte"
	OpEQ          Operator = "eq"
	OpNEQ         Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
)

func parseOperator(s string) (Operator, bool) {
	switch op := Operator(strings.ToLower(strings.TrimSpace(s))); op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ, OpContains, OpNotContains, OpIn:
		return op, true
	}
	return "", false
}

// bucketLookup describes a calculated dataset that returns an object keyed by
// one of the rule's parameters, e.g. {prima_25000: 2, prima_50000: 0}.
type bucketLookup struct {
	param  string
	prefix string
}

var bucketedDatasets = map[string]bucketLookup{
	"polizas_prima_minima": {param: "prima_minima_mxn", prefix: "prima_"},
	"polizas_recientes":    {param: "dias_ventana", prefix: "ventana_"},
}

// bucketField is the field name that selects the whole bucketed object.
const bucketField = "cantidad"

// builtinPaths locates fields of the built-in datasets inside Metrics.
var builtinPaths = map[string]map[string][]string{
	"polizas": {
		"polizas_total":      {"polizas", "total"},
		"polizas_vigentes":   {"polizas", "vigentes"},
		"polizas_anuladas":   {"polizas", "anuladas"},
		"prima_total_mxn":    {"polizas", "prima_total_mxn"},
		"prima_vigente_mxn":  {"polizas", "prima_vigente_mxn"},
		"prima_promedio_mxn": {"polizas", "prima_promedio_mxn"},
		"comision_base_mxn":  {"polizas", "comision_base_mxn"},
		"ingresos_mxn":       {"polizas", "ingresos_mxn"},
		"puntos_totales":     {"polizas", "puntos_totales"},
		"momentum_vita":      {"polizas", "momentum_vita"},
	},
	"prospectos": {
		"prospectos_total":       {"rc", "prospectos_total"},
		"prospectos_con_cita":    {"rc", "prospectos_con_cita"},
		"prospectos_seguimiento": {"rc", "prospectos_seguimiento"},
		"prospectos_descartados": {"rc", "prospectos_descartados"},
		"reclutas_calidad":       {"rc", "reclutas_calidad"},
		"reclutas_calidad_ratio": {"rc", "reclutas_calidad_ratio"},
	},
	"tenure": {
		"tenure_meses": {"tenure_meses"},
	},
}

// bucketAliases maps built-in dataset names to Metrics buckets.
var bucketAliases = map[string]string{
	"polizas":       "polizas",
	"cancelaciones": "cancelaciones",
	"candidatos":    "candidatos",
	"planificacion": "planificacion",
	"clientes":      "clientes",
	"prospectos":    "rc",
	"rc":            "rc",
}

type MetricConditionConfig struct {
	Dataset   string
	Field     string
	Path      []string
	Operator  Operator
	Expected  any
	ValueType string // "number" or "text"
	BucketKey string
	valid     bool
}

func readMetricConditionConfig(raw map[string]any) *MetricConditionConfig {
	cfg := &MetricConditionConfig{
		Dataset: stringField(raw, "dataset", "source"),
		Field:   stringField(raw, "field", "metric"),
	}
	op, ok := parseOperator(stringField(raw, "operator", "comparator"))
	if cfg.Dataset == "" || cfg.Field == "" || !ok {
		return cfg
	}
	cfg.valid = true
	cfg.Operator = op

	switch p := raw["path"].(type) {
	case []any:
		segs := ToStrings(p)
		if len(segs) == len(p) {
			cfg.Path = segs
		}
	case []string:
		cfg.Path = ToStrings(p)
	case string:
		for _, seg := range strings.Split(p, ".") {
			if seg = strings.TrimSpace(seg); seg != "" {
				cfg.Path = append(cfg.Path, seg)
			}
		}
	}
	if len(cfg.Path) == 0 {
		if p, ok := builtinPaths[cfg.Dataset][cfg.Field]; ok {
			cfg.Path = slices.Clone(p)
		} else {
			cfg.Path = []string{cfg.Dataset, cfg.Field}
		}
	}

	cfg.ValueType = "number"
	if vt, _ := raw["valueType"].(string); vt == "text" {
		cfg.ValueType = "text"
	}
	cfg.Expected = first(raw, "valueRaw", "value", "expected")

	if b, ok := bucketedDatasets[cfg.Dataset]; ok {
		if param := raw[b.param]; truthy(param) {
			cfg.BucketKey = b.prefix + paramString(param)
		}
	}
	return cfg
}

func truthy(x any) bool {
	switch t := x.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	}
	if f, ok := ToNumber(x); ok {
		return f != 0
	}
	return true
}

func paramString(x any) string {
	if s, ok := x.(string); ok {
		return s
	}
	if f, ok := ToNumber(x); ok {
		return formatNumber(f)
	}
	return textOf(x)
}

func (c *MetricConditionConfig) Kind() Kind { return KindMetricCondition }

func (c *MetricConditionConfig) check(v *metricsView, _ *evalContext) outcome {
	if !c.valid {
		return outcome{details: map[string]any{"reason": "invalid_metric_config"}, invalid: true}
	}
	actual := c.resolve(v)
	if obj, ok := actual.(map[string]any); ok && c.BucketKey != "" {
		actual = obj[c.BucketKey]
	}
	passed, details := compareCondition(actual, c.Expected, c.Operator, c.ValueType)
	details["dataset"] = c.Dataset
	details["field"] = c.Field
	details["path"] = c.Path
	return outcome{passed: passed, details: details}
}

func (c *MetricConditionConfig) resolve(v *metricsView) any {
	if _, bucketed := bucketedDatasets[c.Dataset]; bucketed && c.Field == bucketField {
		return v.dataset(c.Dataset)
	}
	if found, ok := v.walk(c.Path); ok {
		return found
	}
	if c.Dataset == "tenure" {
		if c.Field == "tenure_meses" {
			return v.tree["tenure_meses"]
		}
		return v.tree[c.Field]
	}
	if bucket, ok := bucketAliases[c.Dataset]; ok {
		return v.bucket(bucket)[c.Field]
	}
	return v.dataset(c.Dataset)[c.Field]
}

// compareCondition evaluates actual <op> expected. Numeric comparisons fail
// outright when either side is not a number; text comparisons ignore case.
func compareCondition(actual, expected any, op Operator, valueType string) (bool, map[string]any) {
	details := map[string]any{
		"actual":    actual,
		"expected":  expected,
		"operator":  string(op),
		"valueType": valueType,
	}

	if valueType == "number" {
		a, aok := ToNumber(actual)
		details["actualNumeric"] = nilIfAbsent(a, aok)
		if op == OpIn {
			var list []float64
			for _, part := range strings.Split(textOf(expected), ",") {
				if f, ok := ToNumber(part); ok {
					list = append(list, f)
				}
			}
			details["expectedValues"] = list
			return aok && slices.Contains(list, a), details
		}
		e, eok := ToNumber(expected)
		details["expectedNumeric"] = nilIfAbsent(e, eok)
		if !aok || !eok {
			return false, details
		}
		switch op {
		case OpGT:
			return a > e, details
		case OpGTE:
			return a >= e, details
		case OpLT:
			return a < e, details
		case OpLTE:
			return a <= e, details
		case OpEQ:
			return a == e, details
		case OpNEQ:
			return a != e, details
		}
		return false, details
	}

	actualText, expectedText := textOf(actual), textOf(expected)
	details["actualText"] = actualText
	details["expectedText"] = expectedText
	a, e := strings.ToLower(actualText), strings.ToLower(expectedText)

	switch op {
	case OpEQ:
		return a == e, details
	case OpNEQ:
		return a != e, details
	case OpContains:
		return e == "" || strings.Contains(a, e), details
	case OpNotContains:
		return e != "" && !strings.Contains(a, e), details
	case OpIn:
		var list []string
		for _, part := range strings.Split(expectedText, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				list = append(list, part)
			}
		}
		details["expectedValues"] = list
		return slices.Contains(list, a), details
	}
	return false, details
}

func nilIfAbsent(f float64, ok bool) any {
	if !ok {
		return nil
	}
	return f
}

func textOf(x any) string {
	switch t := x.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case Value:
		return t.String()
	}
	if f, ok := ToNumber(x); ok {
		return formatNumber(f)
	}
	raw, err := json.Marshal(x)
	if err != nil {
		return ""
	}
	return string(raw)
}
