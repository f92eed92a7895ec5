package engine

import (
	"regexp"
	"strings"
	"time"
)

var rangePattern = regexp.MustCompile(`^([\[(])\s*([^,]*?)\s*,\s*([^\])]*?)\s*([\])])$`)

var boundaryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// IsActive reports whether the campaign is active and at falls in its range.
func (c Campaign) IsActive(at time.Time) bool {
	return c.Status == CampaignActive && RangeContains(c.ActiveRange, at)
}

// RangeContains evaluates a postgres range literal such as "[2025-01-01,2025-07-01)".
// Ranges that cannot be parsed, and empty or infinite bounds, do not restrict.
func RangeContains(rng string, at time.Time) bool {
	if !strings.Contains(rng, ",") {
		return true
	}
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(rng))
	if m == nil {
		return true
	}
	ts := at.UnixMilli()
	if start, ok := parseBoundary(m[2]); ok {
		s := start.UnixMilli()
		if m[1] == "[" && ts < s || m[1] == "(" && ts <= s {
			return false
		}
	}
	if end, ok := parseBoundary(m[3]); ok {
		e := end.UnixMilli()
		if m[4] == "]" && ts > e || m[4] == ")" && ts >= e {
			return false
		}
	}
	return true
}

func parseBoundary(raw string) (time.Time, bool) {
	v := strings.Trim(strings.TrimSpace(raw), `"`)
	switch v {
	case "", "infinity", "+infinity":
		return time.Time{}, false
	case "-infinity":
		return time.Unix(0, 0).UTC(), true
	}
	if len(v) <= 10 {
		t, err := time.Parse("2006-01-02", v)
		return t, err == nil
	}
	for _, layout := range boundaryLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CampaignWithRules is a catalog entry: the campaign, its ordered rules and the
// segments linked to it besides the primary one.
type CampaignWithRules struct {
	Campaign   Campaign `json:"campaign"`
	Rules      []Rule   `json:"rules"`
	SegmentIDs []string `json:"segment_ids"`
}

// VisibleTo reports whether a member of segments may see the campaign. A
// campaign without a primary or linked segment is visible to everyone.
func (c CampaignWithRules) VisibleTo(segments []string) bool {
	required := make([]string, 0, len(c.SegmentIDs)+1)
	if c.Campaign.PrimarySegmentID != nil && *c.Campaign.PrimarySegmentID != "" {
		required = append(required, *c.Campaign.PrimarySegmentID)
	}
	required = append(required, c.SegmentIDs...)
	if len(required) == 0 {
		return true
	}
	for _, id := range required {
		for _, s := range segments {
			if s == id {
				return true
			}
		}
	}
	return false
}
