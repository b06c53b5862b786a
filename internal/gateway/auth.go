package gateway

import (
	"time"

	"key-chat/relay-gateway/internal/crypto"
)

const DefaultFreshnessWindow = 5 * time.Minute

// Verifier checks that the caller who claims a public key produced the
// signature over a canonical message the server reconstructs itself, and
// that the request is fresh. It is a pure check with no side effects.
type Verifier struct {
	// Freshness bounds |now - timestamp|; outside it the request is treated
	// as a replay regardless of signature validity.
	Freshness time.Duration
	Now       func() time.Time
}

func NewVerifier(freshness time.Duration) *Verifier {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Verifier{Freshness: freshness, Now: time.Now}
}

// Verify takes the base64 detached signature, the request's millisecond
// timestamp, the canonical message reconstructed from the request's semantic
// fields, and the claimed base58 public key.
func (v *Verifier) Verify(signatureB64 string, timestampMillis int64, canonicalMessage, claimedPubkey string) bool {
	if !v.Fresh(timestampMillis) {
		return false
	}
	sig, err := crypto.SignatureFromBase64(signatureB64)
	if err != nil {
		return false
	}
	pub, err := crypto.PublicKeyFromBase58(claimedPubkey)
	if err != nil {
		return false
	}
	return crypto.VerifyDetached([]byte(canonicalMessage), sig, pub)
}

// Fresh reports whether the timestamp falls within the replay window.
func (v *Verifier) Fresh(timestampMillis int64) bool {
	now := v.Now().UnixMilli()
	delta := now - timestampMillis
	if delta < 0 {
		delta = -delta
	}
	return delta <= v.Freshness.Milliseconds()
}
