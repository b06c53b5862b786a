package identity

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateWithMnemonic creates an identity together with a bip39 mnemonic
// that deterministically recovers it.
func GenerateWithMnemonic() (*Identity, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	id, err := FromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return id, mnemonic, nil
}

// FromMnemonic recovers the identity backed up by GenerateWithMnemonic.
func FromMnemonic(mnemonic string) (*Identity, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seedBytes := bip39.NewSeed(mnemonic, "")
	return FromSeed(seedBytes[:ed25519.SeedSize])
}
