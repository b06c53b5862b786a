package gateway

import (
	"testing"
	"time"

	"key-chat/relay-gateway/internal/crypto"
	"key-chat/relay-gateway/internal/identity"
)

func signedRequest(t *testing.T, id *identity.Identity, canonical string) string {
	t.Helper()
	return crypto.SignatureToBase64(id.Sign([]byte(canonical)))
}

func TestVerifierAcceptsFreshValidSignature(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(5 * time.Minute)
	v.Now = func() time.Time { return now }

	ts := now.UnixMilli()
	canonical := "relay:recipient:1700000000000"
	sig := signedRequest(t, id, canonical)

	if !v.Verify(sig, ts, canonical, id.Address()) {
		t.Fatal("fresh valid signature rejected")
	}
}

func TestVerifierRejectsMutationsAndWrongKey(t *testing.T) {
	id, _ := identity.Generate()
	other, _ := identity.Generate()
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(5 * time.Minute)
	v.Now = func() time.Time { return now }

	ts := now.UnixMilli()
	canonical := "relay:recipient:ts"
	sig := signedRequest(t, id, canonical)

	if v.Verify(sig, ts, canonical+"x", id.Address()) {
		t.Fatal("mutated canonical message accepted")
	}
	if v.Verify(sig, ts, canonical, other.Address()) {
		t.Fatal("signature accepted for a different keypair")
	}
	if v.Verify("not base64!!", ts, canonical, id.Address()) {
		t.Fatal("malformed signature accepted")
	}
	if v.Verify(sig, ts, canonical, "bogus-key") {
		t.Fatal("malformed pubkey accepted")
	}
}

func TestVerifierFreshnessWindow(t *testing.T) {
	id, _ := identity.Generate()
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(5 * time.Minute)
	v.Now = func() time.Time { return now }

	canonical := "relay:recipient:ts"
	sig := signedRequest(t, id, canonical)

	stale := now.Add(-5*time.Minute - time.Second).UnixMilli()
	if v.Verify(sig, stale, canonical, id.Address()) {
		t.Fatal("stale timestamp accepted")
	}
	future := now.Add(5*time.Minute + time.Second).UnixMilli()
	if v.Verify(sig, future, canonical, id.Address()) {
		t.Fatal("future timestamp accepted")
	}
	edge := now.Add(-5 * time.Minute).UnixMilli()
	if !v.Verify(sig, edge, canonical, id.Address()) {
		t.Fatal("timestamp exactly at the window edge should pass")
	}
}
