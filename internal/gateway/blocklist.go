package gateway

import (
	"context"

	"key-chat/relay-gateway/internal/store"
)

// Blocklist manages directed blocker→blocked edges between signing pubkeys.
// The relay consults it before any ledger submission.
type Blocklist struct {
	store store.Store
}

func NewBlocklist(s store.Store) *Blocklist {
	return &Blocklist{store: s}
}

func (b *Blocklist) Block(ctx context.Context, blocker, blocked string) error {
	if blocker == "" || blocked == "" {
		return invalidRequest("missing blockerPubkey or blockedPubkey")
	}
	if blocker == blocked {
		return invalidRequest("cannot block yourself")
	}
	return b.store.SetAdd(ctx, store.BlockedSet(blocker), blocked)
}

func (b *Blocklist) Unblock(ctx context.Context, blocker, blocked string) error {
	if blocker == "" || blocked == "" {
		return invalidRequest("missing blockerPubkey or blockedPubkey")
	}
	return b.store.SetRemove(ctx, store.BlockedSet(blocker), blocked)
}

func (b *Blocklist) IsBlocked(ctx context.Context, blocker, blocked string) (bool, error) {
	return b.store.SetHas(ctx, store.BlockedSet(blocker), blocked)
}

func (b *Blocklist) BlockedUsers(ctx context.Context, blocker string) ([]string, error) {
	members, err := b.store.SetMembers(ctx, store.BlockedSet(blocker))
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}
