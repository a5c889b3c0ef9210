// Package signature authenticates inbound asynchronous callbacks before any
// state is mutated on their behalf. It is shared by every webhook consumer
// rather than re-implemented per caller.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Payload carries the signed fields of an inbound callback. The canonical
// ordering of the fields is fixed: amount, currency, correlation id,
// provider transaction id.
type Payload struct {
	Amount        string
	Currency      string
	CorrelationID string
	ProviderTxnID string
	Signature     string
}

// CanonicalString joins the signed fields in their documented order with a
// pipe delimiter. Stable across calls for identical input.
func CanonicalString(p Payload) string {
	return strings.Join([]string{p.Amount, p.Currency, p.CorrelationID, p.ProviderTxnID}, "|")
}

// Verify computes an HMAC-SHA256 over the canonical string with the shared
// secret and compares it to the payload's signature, case-insensitively on
// the hex encoding. A missing signature is invalid, never unsigned-but-trusted.
func Verify(p Payload, secret string) bool {
	if p.Signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(p)))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(p.Signature)))
}
