package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

var (
	ErrInvalidKeySize   = errors.New("invalid key size")
	ErrDecryptionFailed = errors.New("decryption failed: invalid key or corrupted message")
	ErrCiphertextShort  = errors.New("ciphertext shorter than nonce")
)

const (
	// KeySize is the length of an x25519 encryption key.
	KeySize = 32
	// NonceSize is the length of the nonce prepended to every sealed box.
	NonceSize = 24
)

// EncryptionKeysFromSigningKey derives the x25519 encryption keypair from an
// ed25519 signing key. The first 32 bytes of the signing secret are the seed,
// so both parties can derive the same encryption identity deterministically.
func EncryptionKeysFromSigningKey(signingKey ed25519.PrivateKey) (publicKey, privateKey *[KeySize]byte, err error) {
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, nil, ErrInvalidKeySize
	}
	seed := signingKey[:KeySize]
	return box.GenerateKey(bytes.NewReader(seed))
}

// Encrypt seals plaintext for the recipient and returns base64(nonce || box).
func Encrypt(plaintext []byte, recipientPublic, senderPrivate *[KeySize]byte) (string, error) {
	if recipientPublic == nil || senderPrivate == nil {
		return "", ErrInvalidKeySize
	}
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, recipientPublic, senderPrivate)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64(nonce || box) ciphertext produced by Encrypt.
// Failure is ErrDecryptionFailed, never garbage plaintext.
func Decrypt(encoded string, senderPublic, recipientPrivate *[KeySize]byte) ([]byte, error) {
	if senderPublic == nil || recipientPrivate == nil {
		return nil, ErrInvalidKeySize
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(raw) < NonceSize {
		return nil, ErrCiphertextShort
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	plaintext, ok := box.Open(nil, raw[NonceSize:], &nonce, senderPublic, recipientPrivate)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
