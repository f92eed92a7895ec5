package engine

import "strings"

// Comparators are the numeric bounds shared by the count-like rule kinds.
// Every bound supplied must hold.
type Comparators struct {
	Min *float64
	Max *float64
	GT  *float64
	LT  *float64
	EQ  *float64
}

func readComparators(raw map[string]any) Comparators {
	return Comparators{
		Min: NumberPtr(first(raw, "min", "minimum", "minValue")),
		Max: NumberPtr(first(raw, "max", "maximum", "maxValue")),
		GT:  NumberPtr(first(raw, "gt", "greaterThan")),
		LT:  NumberPtr(first(raw, "lt", "lessThan")),
		EQ:  NumberPtr(first(raw, "eq", "equals")),
	}
}

func (c Comparators) constrained() bool {
	return c.Min != nil || c.Max != nil || c.GT != nil || c.LT != nil || c.EQ != nil
}

// check applies the bounds to value. A nil value fails whenever a bound exists.
func (c Comparators) check(value *float64, extra map[string]any) (bool, map[string]any) {
	details := make(map[string]any, len(extra)+6)
	for k, v := range extra {
		details[k] = v
	}
	if value != nil {
		details["value"] = *value
	} else {
		details["value"] = nil
	}
	if !c.constrained() {
		return true, details
	}

	passed := value != nil
	if passed {
		x := *value
		switch {
		case c.Min != nil && x < *c.Min:
			passed = false
		case c.Max != nil && x > *c.Max:
			passed = false
		case c.GT != nil && x <= *c.GT:
			passed = false
		case c.LT != nil && x >= *c.LT:
			passed = false
		case c.EQ != nil && x != *c.EQ:
			passed = false
		}
	}

	for k, b := range map[string]*float64{"min": c.Min, "max": c.Max, "gt": c.GT, "lt": c.LT, "eq": c.EQ} {
		if b != nil {
			details[k] = *b
		}
	}
	return passed, details
}

var countPoliciesFields = map[string]string{
	"polizas_total":    "total",
	"total":            "total",
	"total_policies":   "total",
	"polizas":          "total",
	"polizas_anuladas": "anuladas",
	"anuladas":         "anuladas",
	"polizas_vigentes": "vigentes",
	"vigentes":         "vigentes",
}

func resolveCountPoliciesField(raw map[string]any) string {
	name := strings.ToLower(strings.TrimSpace(stringField(raw, "field")))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(stringField(raw, "metric")))
	}
	if f, ok := countPoliciesFields[name]; ok {
		return f
	}
	return "vigentes"
}

var premiumFields = map[string]bool{
	"total": true, "vigentes": true, "anuladas": true,
	"prima_total_mxn": true, "prima_vigente_mxn": true, "prima_promedio_mxn": true,
	"comision_base_mxn": true, "ingresos_mxn": true, "puntos_totales": true, "momentum_vita": true,
}

// premiumAliases maps loose metric names to canonical polizas fields.
var premiumAliases = map[string]string{
	"prima_vigente":    "prima_vigente_mxn",
	"vigente":          "prima_vigente_mxn",
	"prima_promedio":   "prima_promedio_mxn",
	"average_premium":  "prima_promedio_mxn",
	"commission":       "comision_base_mxn",
	"commissions":      "comision_base_mxn",
	"comision":         "comision_base_mxn",
	"comisiones":       "comision_base_mxn",
	"income":           "ingresos_mxn",
	"ingreso":          "ingresos_mxn",
	"ingresos":         "ingresos_mxn",
	"points":           "puntos_totales",
	"puntos":           "puntos_totales",
	"momentum":         "momentum_vita",
	"momentum_vita":    "momentum_vita",
	"vigentes":         "vigentes",
	"polizas_vigentes": "vigentes",
	"anuladas":         "anuladas",
	"polizas_anuladas": "anuladas",
	"total_policies":   "total",
	"polizas_total":    "total",
	"polizas":          "total",
}

func resolveTotalPremiumField(raw map[string]any) string {
	if f := strings.TrimSpace(stringField(raw, "field")); premiumFields[f] {
		return f
	}
	metric := strings.ToLower(strings.TrimSpace(stringField(raw, "metric")))
	if f, ok := premiumAliases[metric]; ok {
		return f
	}
	return "prima_total_mxn"
}

const (
	sourcePolizas       = "polizas"
	sourceCancelaciones = "cancelaciones"
	sourceRC            = "rc"
)

func resolveMetricSource(source, field string) string {
	switch s := strings.ToLower(strings.TrimSpace(source)); s {
	case sourcePolizas, sourceCancelaciones, sourceRC:
		return s
	}
	switch {
	case field == "momentum_vita":
		return sourcePolizas
	case field == "momentum_neto":
		return sourceCancelaciones
	case strings.HasPrefix(field, "rc_"), field == "reclutas_calidad", field == "prospectos_total":
		return sourceRC
	}
	return sourceCancelaciones
}
