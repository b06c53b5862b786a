package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"key-chat/relay-gateway/internal/identity"
	"key-chat/relay-gateway/internal/ledger"
	"key-chat/relay-gateway/internal/metrics"
	"key-chat/relay-gateway/internal/store"
)

const (
	// DefaultInlineLimit is the largest ciphertext embedded directly in a
	// transaction memo; anything bigger is offloaded to blob storage.
	DefaultInlineLimit = 750
	// DefaultMaxPayload bounds even offloaded ciphertexts.
	DefaultMaxPayload = 5 << 20
	// DefaultBlobTTL keeps offloaded payloads for 30 days, independent of
	// spending or rate state lifetimes.
	DefaultBlobTTL = 30 * 24 * time.Hour
	// DefaultTransferLamports is the minimal value attached to each
	// message-bearing transfer.
	DefaultTransferLamports uint64 = 1

	blobRefPrefix = "ref:"
)

// RelayRequest is the client-signed instruction to submit a payload on the
// client's behalf. Timestamp is unix milliseconds.
type RelayRequest struct {
	Ciphertext      string `json:"ciphertext"`
	RecipientPubkey string `json:"recipientPubkey"`
	SenderPubkey    string `json:"senderPubkey"`
	Signature       string `json:"signature"`
	Timestamp       int64  `json:"timestamp"`
}

// CanonicalMessage reconstructs the signed message from the request's
// semantic fields; the signature is never taken over opaque client bytes.
func (r *RelayRequest) CanonicalMessage() string {
	return "relay:" + r.RecipientPubkey + ":" + strconv.FormatInt(r.Timestamp, 10)
}

// Relay builds, cosigns and submits the message-bearing transfer once the
// verifier, rate limiter and spending guard have all admitted the request.
type Relay struct {
	store    store.Store
	ledger   ledger.Ledger
	feePayer *identity.Identity

	InlineLimit      int
	MaxPayload       int
	BlobTTL          time.Duration
	TransferLamports uint64

	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewRelay(s store.Store, l ledger.Ledger, feePayer *identity.Identity, m *metrics.Metrics, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		store:            s,
		ledger:           l,
		feePayer:         feePayer,
		InlineLimit:      DefaultInlineLimit,
		MaxPayload:       DefaultMaxPayload,
		BlobTTL:          DefaultBlobTTL,
		TransferLamports: DefaultTransferLamports,
		metrics:          m,
		log:              log,
		now:              time.Now,
	}
}

// Submit relays the request to the ledger and returns the transaction
// reference. Submission is not retried here: a resubmit without ledger-side
// idempotency keys risks a duplicate send, so retry policy stays with the
// caller.
func (r *Relay) Submit(ctx context.Context, req *RelayRequest) (string, error) {
	if req.Ciphertext == "" || req.RecipientPubkey == "" || req.SenderPubkey == "" {
		return "", invalidRequest("missing ciphertext, recipientPubkey or senderPubkey")
	}
	if len(req.Ciphertext) > r.MaxPayload {
		return "", payloadTooLarge(len(req.Ciphertext), r.MaxPayload)
	}

	blocked, err := r.store.SetHas(ctx, store.BlockedSet(req.RecipientPubkey), req.SenderPubkey)
	if err != nil {
		r.log.Error("block lookup failed", "error", err)
		// An unreadable block list must not let blocked traffic through,
		// but the sender sees an outage, not a block.
		return "", storeUnavailable("block state unavailable", err)
	}
	if blocked {
		return "", blockedRecipient()
	}

	payload := req.Ciphertext
	if len(payload) > r.InlineLimit {
		blobID, err := r.offloadBlob(ctx, payload)
		if err != nil {
			return "", err
		}
		payload = blobRefPrefix + blobID
		if r.metrics != nil {
			r.metrics.BlobOffloads.Inc()
		}
		r.log.Info("payload offloaded to blob storage",
			"sender_pubkey", req.SenderPubkey, "blob_id", blobID, "size", len(req.Ciphertext))
	}

	tx := &ledger.Transaction{
		FeePayer:  r.feePayer.Address(),
		Recipient: req.RecipientPubkey,
		Lamports:  r.TransferLamports,
		Memo:      []byte(req.SenderPubkey + "|" + payload),
		Timestamp: r.now().Unix(),
	}
	if _, err := rand.Read(tx.Nonce[:]); err != nil {
		return "", ledgerFailure(err, false)
	}
	tx.SignWith(r.feePayer)

	reference, err := r.ledger.Submit(ctx, tx)
	if err != nil {
		// A deadline or cancellation means the transaction may still have
		// landed; report the ambiguity instead of a clean failure.
		unknown := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		if r.metrics != nil {
			r.metrics.LedgerSubmissions.WithLabelValues("error").Inc()
		}
		return "", ledgerFailure(err, unknown)
	}
	if r.metrics != nil {
		r.metrics.LedgerSubmissions.WithLabelValues("ok").Inc()
	}
	r.log.Info("relay submitted",
		"sender_pubkey", req.SenderPubkey,
		"recipient_pubkey", req.RecipientPubkey,
		"inline", len(req.Ciphertext) <= r.InlineLimit,
	)
	return reference, nil
}

func (r *Relay) offloadBlob(ctx context.Context, ciphertext string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	if err := r.store.Set(ctx, store.BlobKey(id), []byte(ciphertext), r.BlobTTL); err != nil {
		return "", storeUnavailable("blob storage unavailable", err)
	}
	return id, nil
}
