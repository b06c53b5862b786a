package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"key-chat/relay-gateway/internal/ledger"
	"key-chat/relay-gateway/internal/metrics"
	"key-chat/relay-gateway/internal/store"
)

// EncryptedRecord is one message-bearing transaction as seen by a consumer,
// with any blob reference already resolved back to the full ciphertext.
type EncryptedRecord struct {
	Signature    string `json:"signature"`
	SenderPubkey string `json:"senderPubkey"`
	Payload      string `json:"encryptedMessage"`
	Timestamp    int64  `json:"timestamp"`
}

// InboxReader turns ledger queries into encrypted-message records. The
// ledger delivers at-least-once and possibly out of order; records come back
// in ascending timestamp order, and duplicate suppression is the consumer's
// job (see client.DedupTracker).
type InboxReader struct {
	ledger  ledger.Ledger
	store   store.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewInboxReader(l ledger.Ledger, s store.Store, m *metrics.Metrics, log *slog.Logger) *InboxReader {
	if log == nil {
		log = slog.Default()
	}
	return &InboxReader{ledger: l, store: s, metrics: m, log: log}
}

// FetchInbox lists records addressed to ownerPubkey since the given time.
// Records whose memo does not parse, and blob references whose blob has
// expired, are skipped rather than failing the whole poll.
func (ir *InboxReader) FetchInbox(ctx context.Context, ownerPubkey string, since time.Time) ([]EncryptedRecord, error) {
	txs, err := ir.ledger.TransactionsTo(ctx, ownerPubkey, since)
	if err != nil {
		return nil, &RelayError{Kind: KindLedger, Message: "inbox query failed", err: err}
	}
	if ir.metrics != nil {
		ir.metrics.InboxFetches.Inc()
	}

	records := make([]EncryptedRecord, 0, len(txs))
	for _, tx := range txs {
		sender, payload, ok := splitMemo(tx.Memo)
		if !ok {
			ir.log.Debug("skipping transaction with unparseable memo", "reference", tx.Reference)
			continue
		}
		if id, isRef := strings.CutPrefix(payload, blobRefPrefix); isRef {
			blob, err := ir.store.Get(ctx, store.BlobKey(id))
			if errors.Is(err, store.ErrNotFound) {
				ir.log.Warn("blob for inbox record expired or missing", "blob_id", id)
				continue
			}
			if err != nil {
				return nil, storeUnavailable("blob resolution failed", err)
			}
			payload = string(blob)
		}
		records = append(records, EncryptedRecord{
			Signature:    tx.Reference,
			SenderPubkey: sender,
			Payload:      payload,
			Timestamp:    tx.Timestamp.Unix(),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	return records, nil
}

// splitMemo parses "<senderBase58>|<payload>".
func splitMemo(memo []byte) (sender, payload string, ok bool) {
	s := string(memo)
	idx := strings.IndexByte(s, '|')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
