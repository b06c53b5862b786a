// Package store is the keyed blob/counter store every gateway component
// shares. It carries no policy: plain get/set/delete with optional per-key
// expiry plus set membership, behind flat per-concern key namespaces.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("store: key not found")

// Store is implemented by the in-memory backend and the badger backend.
// Every operation touches a single key; nothing here spans keys
// transactionally.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes key with an optional ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	SetAdd(ctx context.Context, set, member string) error
	SetRemove(ctx context.Context, set, member string) error
	SetHas(ctx context.Context, set, member string) (bool, error)
	SetMembers(ctx context.Context, set string) ([]string, error)

	Close() error
}

// Key namespaces mirror the wire-visible layout: each concern gets a flat
// prefix so entries expire independently and never collide.

func SpendingKey(day, identifier string) string {
	return "spending:day:" + day + ":" + identifier
}

func BlockedSet(blockerPubkey string) string {
	return "blocked:" + blockerPubkey
}

func BlobKey(id string) string {
	return "msg:blob:" + id
}

func EncryptionKey(handle string) string {
	return "encryption:" + handle
}

func AvatarKey(handle string) string {
	return "avatar:" + handle
}

func UsernameKey(name string) string {
	return "username:" + name
}

func ReleasedUsernameKey(name string, ts int64) string {
	return "username:released:" + name + ":" + strconv.FormatInt(ts, 10)
}

func GroupKey(id string) string {
	return "group:" + id
}

func GroupMembersSet(id string) string {
	return "group:members:" + id
}

func UserGroupsSet(pubkey string) string {
	return "user:groups:" + pubkey
}

func ProcessedKey(ownerPubkey string) string {
	return "inbox:processed:" + ownerPubkey
}
