package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToNumber coerces loosely typed input. Nil, non-finite numbers and
// unparsable strings are reported as absent, never as zero.
func ToNumber(x any) (float64, bool) {
	var f float64
	switch t := x.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	case *float64:
		if t == nil {
			return 0, false
		}
		f = *t
	case Value:
		return t.Float()
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NumberPtr is ToNumber for nullable fields.
func NumberPtr(x any) *float64 {
	f, ok := ToNumber(x)
	if !ok {
		return nil
	}
	return &f
}

// ToBool accepts booleans, numbers and the usual yes/no spellings.
func ToBool(x any) (bool, bool) {
	switch t := x.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "si":
			return true, true
		case "false", "0", "no":
			return false, true
		}
		return false, false
	}
	if f, ok := ToNumber(x); ok {
		return f != 0, true
	}
	return false, false
}

// ToStrings reads a list of strings or a comma separated string.
func ToStrings(x any) []string {
	var out []string
	switch t := x.(type) {
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func asObject(x any) map[string]any {
	if m, ok := x.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// first returns the first non-nil value among keys.
func first(cfg map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := cfg[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := cfg[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// epsilon is float64 machine epsilon; it pushes halves like 0.6665 up.
const epsilon = 2.220446049250313e-16

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round((v+epsilon)*factor) / factor
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NormalizeRole lower-cases a role and folds its known aliases.
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "super usuario" {
		return "super_usuario"
	}
	return r
}
