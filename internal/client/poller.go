package client

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"key-chat/relay-gateway/internal/crypto"
	"key-chat/relay-gateway/internal/gateway"
	"key-chat/relay-gateway/internal/identity"
)

// MessageKind classifies a decrypted payload by its prefix.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindExternal MessageKind = "external"

	imagePrefix    = "IMG:"
	externalPrefix = "ar:"
)

// Message is one decrypted inbox entry delivered to the handler.
type Message struct {
	Signature    string
	SenderPubkey string
	Kind         MessageKind
	// Body is the plaintext for text, the base64 image data for image and
	// the storage locator for external messages.
	Body      string
	Timestamp int64
}

// EncryptionKeyResolver maps a sender's signing pubkey to their base58 x25519
// encryption key, usually via the gateway's username registry.
type EncryptionKeyResolver func(ctx context.Context, senderPubkey string) (string, error)

// Poller drains the inbox for one identity. Records are deduplicated by
// transaction signature and marked processed before the handler runs, so a
// crash mid-delivery drops a message rather than duplicating it.
type Poller struct {
	inbox    *gateway.InboxReader
	identity *identity.Identity
	dedup    *DedupTracker
	resolve  EncryptionKeyResolver
	log      *slog.Logger

	lastPoll time.Time
}

func NewPoller(inbox *gateway.InboxReader, id *identity.Identity, dedup *DedupTracker, resolve EncryptionKeyResolver, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if dedup == nil {
		dedup = NewDedupTracker(0)
	}
	return &Poller{
		inbox:    inbox,
		identity: id,
		dedup:    dedup,
		resolve:  resolve,
		log:      log,
	}
}

// Poll fetches records since the previous call and invokes handler once per
// new message. Undecryptable records are marked processed and skipped so a
// poison record cannot wedge the poll loop.
func (p *Poller) Poll(ctx context.Context, handler func(Message)) error {
	since := p.lastPoll
	records, err := p.inbox.FetchInbox(ctx, p.identity.Address(), since)
	if err != nil {
		return err
	}
	p.lastPoll = time.Now()

	for _, rec := range records {
		if p.dedup.IsProcessed(rec.Signature) {
			continue
		}
		p.dedup.MarkProcessed(rec.Signature)

		plaintext, err := p.decrypt(ctx, rec)
		if err != nil {
			p.log.Warn("undecryptable inbox record skipped",
				"sender_pubkey", rec.SenderPubkey, "error", err)
			continue
		}
		handler(classify(rec, plaintext))
	}
	return nil
}

func (p *Poller) decrypt(ctx context.Context, rec gateway.EncryptedRecord) ([]byte, error) {
	encoded, err := p.resolve(ctx, rec.SenderPubkey)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.PublicKeyFromBase58(encoded)
	if err != nil {
		return nil, err
	}
	var senderPublic [crypto.KeySize]byte
	copy(senderPublic[:], raw)
	return p.identity.Decrypt(rec.Payload, &senderPublic)
}

func classify(rec gateway.EncryptedRecord, plaintext []byte) Message {
	msg := Message{
		Signature:    rec.Signature,
		SenderPubkey: rec.SenderPubkey,
		Kind:         KindText,
		Body:         string(plaintext),
		Timestamp:    rec.Timestamp,
	}
	if body, ok := strings.CutPrefix(msg.Body, imagePrefix); ok {
		msg.Kind = KindImage
		msg.Body = body
	} else if body, ok := strings.CutPrefix(msg.Body, externalPrefix); ok {
		msg.Kind = KindExternal
		msg.Body = body
	}
	return msg
}
