package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"key-chat/relay-gateway/internal/store"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

const releasedTombstoneTTL = 30 * 24 * time.Hour

// NameRecord maps a human-readable handle to its owner's keys. The ledger's
// name registry is the source of truth; the store holds the gateway's
// mirror, which is what lookups serve.
type NameRecord struct {
	Username      string `json:"username"`
	OwnerPubkey   string `json:"ownerPubkey"`
	EncryptionKey string `json:"encryptionKey"` // base58 x25519 public key
	RegisteredAt  int64  `json:"registeredAt"`
}

// Usernames implements register/release/lookup over the mirrored records.
// Registration is first-come: a handle can be created at most once until its
// owner releases it.
type Usernames struct {
	store    store.Store
	verifier *Verifier
	now      func() time.Time
}

func NewUsernames(s store.Store, v *Verifier) *Usernames {
	return &Usernames{store: s, verifier: v, now: time.Now}
}

func CanonicalRegisterMessage(name string, ts int64) string {
	return "username:register:" + name + ":" + strconv.FormatInt(ts, 10)
}

func CanonicalReleaseMessage(name string, ts int64) string {
	return "username:release:" + name + ":" + strconv.FormatInt(ts, 10)
}

// Available reports whether the handle is free and well-formed.
func (u *Usernames) Available(ctx context.Context, name string) (bool, error) {
	name = normalizeUsername(name)
	if !usernamePattern.MatchString(name) {
		return false, invalidRequest("username must be 3-32 lowercase letters, digits or underscores")
	}
	_, err := u.store.Get(ctx, store.UsernameKey(name))
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Register claims a free handle for ownerPubkey. The request must be signed
// over the canonical register message.
func (u *Usernames) Register(ctx context.Context, name, ownerPubkey, encryptionKey, signature string, timestamp int64) error {
	name = normalizeUsername(name)
	if ownerPubkey == "" || encryptionKey == "" {
		return invalidRequest("missing ownerPubkey or encryptionKey")
	}
	free, err := u.Available(ctx, name)
	if err != nil {
		return err
	}
	if !free {
		return invalidRequest("username is taken")
	}
	if !u.verifier.Verify(signature, timestamp, CanonicalRegisterMessage(name, timestamp), ownerPubkey) {
		return authenticationError("invalid signature or stale timestamp")
	}

	rec := NameRecord{
		Username:      name,
		OwnerPubkey:   ownerPubkey,
		EncryptionKey: encryptionKey,
		RegisteredAt:  u.now().Unix(),
	}
	value, _ := json.Marshal(rec)
	if err := u.store.Set(ctx, store.UsernameKey(name), value, 0); err != nil {
		return err
	}
	return u.store.Set(ctx, store.EncryptionKey(name), []byte(encryptionKey), 0)
}

// Release frees a handle. Only its owner may release it; a suffixed
// tombstone is kept briefly so an instant re-claim does not collide with
// in-flight lookups.
func (u *Usernames) Release(ctx context.Context, name, ownerPubkey, signature string, timestamp int64) error {
	name = normalizeUsername(name)
	rec, err := u.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if rec.OwnerPubkey != ownerPubkey {
		return authenticationError("only the owner can release a username")
	}
	if !u.verifier.Verify(signature, timestamp, CanonicalReleaseMessage(name, timestamp), ownerPubkey) {
		return authenticationError("invalid signature or stale timestamp")
	}

	released := u.now().Unix()
	tombstone, _ := json.Marshal(rec)
	if err := u.store.Set(ctx, store.ReleasedUsernameKey(name, released), tombstone, releasedTombstoneTTL); err != nil {
		return err
	}
	if err := u.store.Delete(ctx, store.UsernameKey(name)); err != nil {
		return err
	}
	return u.store.Delete(ctx, store.EncryptionKey(name))
}

// Lookup resolves a handle to its owner's signing and encryption keys.
func (u *Usernames) Lookup(ctx context.Context, name string) (NameRecord, error) {
	name = normalizeUsername(name)
	raw, err := u.store.Get(ctx, store.UsernameKey(name))
	if errors.Is(err, store.ErrNotFound) {
		return NameRecord{}, notFound("username not found")
	}
	if err != nil {
		return NameRecord{}, err
	}
	var rec NameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return NameRecord{}, err
	}
	return rec, nil
}

// EncryptionKeyFor is the narrow lookup clients use before encrypting.
func (u *Usernames) EncryptionKeyFor(ctx context.Context, name string) (string, error) {
	raw, err := u.store.Get(ctx, store.EncryptionKey(normalizeUsername(name)))
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound("encryption key not found")
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
