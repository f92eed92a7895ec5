package aggregator

import (
	"encoding/json"
	"strings"

	"campaign-progress-engine/internal/engine"
)

// ItemsKey holds a calculated dataset that arrived as a list instead of an
// object.
const ItemsKey = "items"

// mergeDatasets layers per-person custom metric rows over the calculated
// datasets. Colliding keys take the custom value.
func mergeDatasets(calculated map[string]any, rows []CustomMetricRow) map[string]map[string]engine.Value {
	out := map[string]map[string]engine.Value{}

	for name, raw := range calculated {
		switch obj := raw.(type) {
		case map[string]any:
			ds := make(map[string]engine.Value, len(obj))
			for k, v := range obj {
				ds[k] = engine.ValueOf(v)
			}
			out[name] = ds
		case []any:
			out[name] = map[string]engine.Value{ItemsKey: engine.ValueOf(obj)}
		}
	}

	for _, r := range rows {
		dataset, metric := strings.TrimSpace(r.Dataset), strings.TrimSpace(r.Metric)
		if dataset == "" || metric == "" {
			continue
		}
		if out[dataset] == nil {
			out[dataset] = map[string]engine.Value{}
		}
		out[dataset][metric] = customValue(r)
	}
	return out
}

func customValue(r CustomMetricRow) engine.Value {
	if len(r.JSONValue) > 0 && json.Valid(r.JSONValue) {
		if v := engine.JSON(r.JSONValue); !v.IsNull() {
			return v
		}
	}
	if r.NumericValue != nil {
		if f, ok := engine.ToNumber(*r.NumericValue); ok {
			return engine.Number(f)
		}
		return engine.Text(*r.NumericValue)
	}
	if r.TextValue != nil {
		return engine.Text(*r.TextValue)
	}
	return engine.Null()
}
