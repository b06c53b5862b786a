package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"

	"github.com/mr-tron/base58"
)

var ErrInvalidPublicKey = errors.New("invalid base58 public key")

// Sign produces a detached ed25519 signature over msg.
func Sign(msg []byte, key ed25519.PrivateKey) []byte {
	return ed25519.Sign(key, msg)
}

// VerifyDetached reports whether sig is a valid detached signature over msg.
func VerifyDetached(msg, sig []byte, key ed25519.PublicKey) bool {
	if len(key) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, msg, sig)
}

// PublicKeyToBase58 encodes a signing public key the way it travels on the
// wire and in ledger addresses.
func PublicKeyToBase58(key ed25519.PublicKey) string {
	return base58.Encode(key)
}

// PublicKeyFromBase58 decodes and length-checks a base58 signing public key.
func PublicKeyFromBase58(s string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// SignatureToBase64 encodes a detached signature for JSON transport.
func SignatureToBase64(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// SignatureFromBase64 decodes a detached signature; a wrong-size result is an
// error so verification never runs against truncated input.
func SignatureFromBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, errors.New("invalid signature size")
	}
	return raw, nil
}
