package aggregator

import (
	"strings"
	"time"
)

var referenceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
}

// parseReference accepts timestamps, dates and YYYY-MM connection months.
func parseReference(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range referenceLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// TenureMonths counts whole calendar months from ref to now, never negative.
func TenureMonths(ref, now time.Time) int {
	ref = ref.UTC()
	now = now.UTC()
	months := (now.Year()-ref.Year())*12 + int(now.Month()) - int(ref.Month())
	if now.Day() < ref.Day() {
		months--
	}
	return max(months, 0)
}

// tenure prefers the first policy emission and falls back to the candidate
// registry connection month. It is nil when neither parses.
func tenure(firstEmission, connectionMonth *string, now time.Time) *int {
	if ref, ok := parseReference(firstEmission); ok {
		m := TenureMonths(ref, now)
		return &m
	}
	if ref, ok := parseReference(connectionMonth); ok {
		m := TenureMonths(ref, now)
		return &m
	}
	return nil
}
