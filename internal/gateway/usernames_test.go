package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"key-chat/relay-gateway/internal/crypto"
	"key-chat/relay-gateway/internal/identity"
	"key-chat/relay-gateway/internal/store"
)

func testVerifier(now time.Time) *Verifier {
	v := NewVerifier(5 * time.Minute)
	v.Now = func() time.Time { return now }
	return v
}

func TestUsernameRegisterLookupRelease(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := store.NewMemoryStore()
	u := NewUsernames(s, testVerifier(now))
	u.now = func() time.Time { return now }

	alice, _ := identity.Generate()
	encKey := crypto.PublicKeyToBase58(alice.EncryptionPublic[:])
	ts := now.UnixMilli()

	free, err := u.Available(ctx, "alice_01")
	if err != nil || !free {
		t.Fatalf("fresh handle should be available: %v %v", free, err)
	}

	sig := crypto.SignatureToBase64(alice.Sign([]byte(CanonicalRegisterMessage("alice_01", ts))))
	if err := u.Register(ctx, "alice_01", alice.Address(), encKey, sig, ts); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec, err := u.Lookup(ctx, "Alice_01")
	if err != nil {
		t.Fatalf("lookup should normalize case: %v", err)
	}
	if rec.OwnerPubkey != alice.Address() || rec.EncryptionKey != encKey {
		t.Fatalf("record mismatch: %+v", rec)
	}
	got, err := u.EncryptionKeyFor(ctx, "alice_01")
	if err != nil || got != encKey {
		t.Fatalf("encryption key lookup: %q %v", got, err)
	}

	// taken handle cannot be re-registered, even by someone else
	bob, _ := identity.Generate()
	bobSig := crypto.SignatureToBase64(bob.Sign([]byte(CanonicalRegisterMessage("alice_01", ts))))
	err = u.Register(ctx, "alice_01", bob.Address(), encKey, bobSig, ts)
	var relayErr *RelayError
	if !errors.As(err, &relayErr) || relayErr.Kind != KindInvalidRequest {
		t.Fatalf("duplicate registration should be rejected, got %v", err)
	}

	// only the owner can release
	bobRelease := crypto.SignatureToBase64(bob.Sign([]byte(CanonicalReleaseMessage("alice_01", ts))))
	err = u.Release(ctx, "alice_01", bob.Address(), bobRelease, ts)
	if !errors.As(err, &relayErr) || relayErr.Kind != KindAuthentication {
		t.Fatalf("non-owner release should fail auth, got %v", err)
	}

	release := crypto.SignatureToBase64(alice.Sign([]byte(CanonicalReleaseMessage("alice_01", ts))))
	if err := u.Release(ctx, "alice_01", alice.Address(), release, ts); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := u.Lookup(ctx, "alice_01"); !errors.As(err, &relayErr) || relayErr.Kind != KindNotFound {
		t.Fatalf("released handle should be gone, got %v", err)
	}
	if free, _ := u.Available(ctx, "alice_01"); !free {
		t.Fatal("released handle should be claimable again")
	}
}

func TestUsernameValidationAndBadSignature(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := store.NewMemoryStore()
	u := NewUsernames(s, testVerifier(now))

	var relayErr *RelayError
	for _, bad := range []string{"ab", "UPPER CASE", "way_too_long_for_a_handle_over_32_chars", "has-dash"} {
		_, err := u.Available(ctx, bad)
		if !errors.As(err, &relayErr) || relayErr.Kind != KindInvalidRequest {
			t.Fatalf("handle %q should be rejected, got %v", bad, err)
		}
	}

	alice, _ := identity.Generate()
	encKey := crypto.PublicKeyToBase58(alice.EncryptionPublic[:])
	ts := now.UnixMilli()

	// signature over the wrong handle must not register
	sig := crypto.SignatureToBase64(alice.Sign([]byte(CanonicalRegisterMessage("other", ts))))
	err := u.Register(ctx, "alice_01", alice.Address(), encKey, sig, ts)
	if !errors.As(err, &relayErr) || relayErr.Kind != KindAuthentication {
		t.Fatalf("mismatched signature should fail auth, got %v", err)
	}
}
