// Package ledger assigns fingerprints to trading intents and keeps the
// append-only audit record correlating each fingerprint with its
// eventual exchange order outcome.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rustyeddy/sentinel/exchange"
)

// Intent is the canonical payload a fingerprint is derived from. Epoch
// is the cycle epoch that produced the intent: retrying the same intent
// in the same epoch yields the same fingerprint, which is what makes
// lookup-after-ambiguous-timeout work.
type Intent struct {
	Symbol string        `json:"symbol"`
	Role   exchange.Role `json:"role"`
	Side   exchange.Side `json:"side"`
	Epoch  int64         `json:"epoch"`
}

// Fingerprint returns a stable token for the intent: the role name
// followed by a short sha256 of the canonical payload. Short enough
// for exchange client-order-id limits, long enough that collisions are
// not a practical concern.
func Fingerprint(in Intent) string {
	payload, _ := json.Marshal(in) // struct marshal cannot fail
	sum := sha256.Sum256(payload)
	return in.Role.String() + ":" + hex.EncodeToString(sum[:])[:16]
}
