package gateway

import (
	"context"
	"errors"

	"key-chat/relay-gateway/internal/store"
)

// MaxAvatarBytes caps avatar uploads; 500KB of base64 is ~375KB of image.
const MaxAvatarBytes = 500 * 1024

// Avatars stores profile images by handle, no TTL.
type Avatars struct {
	store store.Store
}

func NewAvatars(s store.Store) *Avatars {
	return &Avatars{store: s}
}

func (a *Avatars) Set(ctx context.Context, username, avatarBase64 string) error {
	if username == "" || avatarBase64 == "" {
		return invalidRequest("missing username or avatarBase64")
	}
	if len(avatarBase64) > MaxAvatarBytes {
		return payloadTooLarge(len(avatarBase64), MaxAvatarBytes)
	}
	return a.store.Set(ctx, store.AvatarKey(username), []byte(avatarBase64), 0)
}

func (a *Avatars) Get(ctx context.Context, username string) (string, error) {
	raw, err := a.store.Get(ctx, store.AvatarKey(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound("avatar not found")
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (a *Avatars) Delete(ctx context.Context, username string) error {
	return a.store.Delete(ctx, store.AvatarKey(username))
}
