// Package identity holds the signing/encryption keypair model shared by the
// fee payer and by test users. Secret material never leaves this package
// except through Sign and Decrypt.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"github.com/mr-tron/base58"

	"key-chat/relay-gateway/internal/crypto"
)

var (
	ErrInvalidSeed   = errors.New("seed must be 32 bytes")
	ErrInvalidSecret = errors.New("invalid base58 secret key")
)

// Identity is an ed25519 signing keypair plus the x25519 encryption keypair
// derived from the first 32 bytes of the signing secret. The base58 signing
// public key is the canonical user identifier everywhere in the system.
type Identity struct {
	signingPrivate    ed25519.PrivateKey
	SigningPublicKey  ed25519.PublicKey
	encryptionPrivate *[crypto.KeySize]byte
	EncryptionPublic  *[crypto.KeySize]byte
}

// Generate creates a fresh identity from system entropy.
func Generate() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// FromSeed builds an identity deterministically from a 32-byte seed.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return fromSigningKey(priv)
}

// FromSecretBase58 restores an identity from a base58-encoded 64-byte
// ed25519 secret key, the format cmd/keygen writes for the fee payer.
func FromSecretBase58(encoded string) (*Identity, error) {
	raw, err := base58.Decode(encoded)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSecret
	}
	return fromSigningKey(ed25519.PrivateKey(raw))
}

func fromSigningKey(priv ed25519.PrivateKey) (*Identity, error) {
	encPub, encPriv, err := crypto.EncryptionKeysFromSigningKey(priv)
	if err != nil {
		return nil, err
	}
	return &Identity{
		signingPrivate:    priv,
		SigningPublicKey:  priv.Public().(ed25519.PublicKey),
		encryptionPrivate: encPriv,
		EncryptionPublic:  encPub,
	}, nil
}

// Address returns the canonical base58 identifier.
func (id *Identity) Address() string {
	return crypto.PublicKeyToBase58(id.SigningPublicKey)
}

// Sign produces a detached signature over msg. Signing reads the key without
// mutation, so one identity is safe to share across concurrent relays.
func (id *Identity) Sign(msg []byte) []byte {
	return crypto.Sign(msg, id.signingPrivate)
}

// Encrypt seals plaintext for a recipient's encryption public key.
func (id *Identity) Encrypt(plaintext []byte, recipientPublic *[crypto.KeySize]byte) (string, error) {
	return crypto.Encrypt(plaintext, recipientPublic, id.encryptionPrivate)
}

// Decrypt opens a ciphertext sealed for this identity by senderPublic.
func (id *Identity) Decrypt(sealed string, senderPublic *[crypto.KeySize]byte) ([]byte, error) {
	return crypto.Decrypt(sealed, senderPublic, id.encryptionPrivate)
}

// SecretBase58 exports the full signing secret for key files. Callers own
// keeping the result out of logs.
func (id *Identity) SecretBase58() string {
	return base58.Encode(id.signingPrivate)
}
