package progress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"campaign-progress-engine/internal/engine"
)

// Fingerprint is the hex sha256 of the metrics document without its meta
// block. Struct fields encode in declaration order and map keys sorted, so
// deeply equal snapshots hash the same.
func Fingerprint(m engine.Metrics) (string, error) {
	raw, err := json.Marshal(m.WithoutMeta())
	if err != nil {
		return "", fmt.Errorf("encode metrics: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// storedFingerprint reads meta.fingerprint without decoding the whole document.
func storedFingerprint(raw json.RawMessage) string {
	var doc struct {
		Meta *struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Meta == nil {
		return ""
	}
	return doc.Meta.Fingerprint
}
