// Package fingerprint derives deterministic content hashes for stage inputs.
// Fingerprints are computed over logical inputs only — never run identifiers
// or wall-clock values — so identical inputs always resolve to the same hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// New hashes the stage name plus the supplied logical fields into a hex
// fingerprint. Map keys are marshalled in sorted order, which keeps the
// encoding canonical.
func New(stage string, fields map[string]interface{}) string {
	payload := map[string]interface{}{
		"stage":  stage,
		"fields": fields,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		// Only non-serializable values can land here; fall back to the
		// textual form rather than panicking inside a pure function.
		normalized = []byte(fmt.Sprintf("%s:%v", stage, fields))
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}
