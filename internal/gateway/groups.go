package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"key-chat/relay-gateway/internal/store"
)

// Group is the stored metadata for a chat group. Membership lives in a
// separate set so invites and leaves stay single-key writes.
type Group struct {
	GroupID   string `json:"groupId"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	CreatedAt int64  `json:"createdAt"`
}

// Groups provides owner-moderated membership bookkeeping. Every mutating
// call is signed over a canonical message.
type Groups struct {
	store    store.Store
	verifier *Verifier
	now      func() time.Time
}

func NewGroups(s store.Store, v *Verifier) *Groups {
	return &Groups{store: s, verifier: v, now: time.Now}
}

func CanonicalGroupCreateMessage(name string, ts int64) string {
	return "group:create:" + name + ":" + strconv.FormatInt(ts, 10)
}

func CanonicalGroupInviteMessage(groupID, memberPubkey string, ts int64) string {
	return "group:invite:" + groupID + ":" + memberPubkey + ":" + strconv.FormatInt(ts, 10)
}

func CanonicalGroupLeaveMessage(groupID string, ts int64) string {
	return "group:leave:" + groupID + ":" + strconv.FormatInt(ts, 10)
}

func (g *Groups) Create(ctx context.Context, name, ownerPubkey, signature string, timestamp int64) (Group, error) {
	if name == "" || ownerPubkey == "" {
		return Group{}, invalidRequest("missing name or ownerPubkey")
	}
	if !g.verifier.Verify(signature, timestamp, CanonicalGroupCreateMessage(name, timestamp), ownerPubkey) {
		return Group{}, authenticationError("invalid signature or stale timestamp")
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Group{}, err
	}
	group := Group{
		GroupID:   hex.EncodeToString(buf),
		Name:      name,
		Owner:     ownerPubkey,
		CreatedAt: g.now().Unix(),
	}
	value, _ := json.Marshal(group)
	if err := g.store.Set(ctx, store.GroupKey(group.GroupID), value, 0); err != nil {
		return Group{}, err
	}
	if err := g.store.SetAdd(ctx, store.GroupMembersSet(group.GroupID), ownerPubkey); err != nil {
		return Group{}, err
	}
	if err := g.store.SetAdd(ctx, store.UserGroupsSet(ownerPubkey), group.GroupID); err != nil {
		return Group{}, err
	}
	return group, nil
}

// Invite adds a member; only the group owner may invite.
func (g *Groups) Invite(ctx context.Context, groupID, memberPubkey, ownerPubkey, signature string, timestamp int64) error {
	if groupID == "" || memberPubkey == "" || ownerPubkey == "" {
		return invalidRequest("missing groupId, memberPubkey or ownerPubkey")
	}
	group, err := g.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Owner != ownerPubkey {
		return authenticationError("only the group owner can invite")
	}
	if !g.verifier.Verify(signature, timestamp, CanonicalGroupInviteMessage(groupID, memberPubkey, timestamp), ownerPubkey) {
		return authenticationError("invalid signature or stale timestamp")
	}
	if err := g.store.SetAdd(ctx, store.GroupMembersSet(groupID), memberPubkey); err != nil {
		return err
	}
	return g.store.SetAdd(ctx, store.UserGroupsSet(memberPubkey), groupID)
}

// Leave removes a member. The owner leaving dissolves the group.
func (g *Groups) Leave(ctx context.Context, groupID, memberPubkey, signature string, timestamp int64) error {
	if groupID == "" || memberPubkey == "" {
		return invalidRequest("missing groupId or memberPubkey")
	}
	group, err := g.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.verifier.Verify(signature, timestamp, CanonicalGroupLeaveMessage(groupID, timestamp), memberPubkey) {
		return authenticationError("invalid signature or stale timestamp")
	}

	if group.Owner == memberPubkey {
		members, err := g.Members(ctx, groupID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := g.store.SetRemove(ctx, store.GroupMembersSet(groupID), m); err != nil {
				return err
			}
			if err := g.store.SetRemove(ctx, store.UserGroupsSet(m), groupID); err != nil {
				return err
			}
		}
		return g.store.Delete(ctx, store.GroupKey(groupID))
	}

	if err := g.store.SetRemove(ctx, store.GroupMembersSet(groupID), memberPubkey); err != nil {
		return err
	}
	return g.store.SetRemove(ctx, store.UserGroupsSet(memberPubkey), groupID)
}

func (g *Groups) Get(ctx context.Context, groupID string) (Group, error) {
	raw, err := g.store.Get(ctx, store.GroupKey(groupID))
	if errors.Is(err, store.ErrNotFound) {
		return Group{}, notFound("group not found")
	}
	if err != nil {
		return Group{}, err
	}
	var group Group
	if err := json.Unmarshal(raw, &group); err != nil {
		return Group{}, err
	}
	return group, nil
}

func (g *Groups) Members(ctx context.Context, groupID string) ([]string, error) {
	members, err := g.store.SetMembers(ctx, store.GroupMembersSet(groupID))
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (g *Groups) UserGroups(ctx context.Context, pubkey string) ([]Group, error) {
	ids, err := g.store.SetMembers(ctx, store.UserGroupsSet(pubkey))
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(ids))
	for _, id := range ids {
		group, err := g.Get(ctx, id)
		if err != nil {
			// A dangling membership edge after dissolution is not fatal.
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}
