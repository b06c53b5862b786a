package identity

import (
	"strings"
	"testing"
)

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	b, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("from seed again: %v", err)
	}
	if a.Address() != b.Address() {
		t.Fatal("same seed produced different addresses")
	}
	if *a.EncryptionPublic != *b.EncryptionPublic {
		t.Fatal("same seed produced different encryption keys")
	}
	if _, err := FromSeed(seed[:16]); err != ErrInvalidSeed {
		t.Fatalf("expected ErrInvalidSeed, got %v", err)
	}
}

func TestSecretBase58RoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := FromSecretBase58(id.SecretBase58())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Address() != id.Address() {
		t.Fatal("restored identity has a different address")
	}
	if _, err := FromSecretBase58("not-a-key"); err != ErrInvalidSecret {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestMnemonicRecovery(t *testing.T) {
	id, mnemonic, err := GenerateWithMnemonic()
	if err != nil {
		t.Fatalf("generate with mnemonic: %v", err)
	}
	if len(strings.Fields(mnemonic)) != 24 {
		t.Fatalf("expected 24-word mnemonic, got %d words", len(strings.Fields(mnemonic)))
	}
	recovered, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered.Address() != id.Address() {
		t.Fatal("mnemonic recovery produced a different identity")
	}
	if _, err := FromMnemonic("banana banana banana"); err != ErrInvalidMnemonic {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestIdentityEncryptDecryptBetweenParties(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := Generate()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}

	sealed, err := alice.Encrypt([]byte("hi bob"), bob.EncryptionPublic)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := bob.Decrypt(sealed, alice.EncryptionPublic)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(opened) != "hi bob" {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}
