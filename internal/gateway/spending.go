package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"key-chat/relay-gateway/internal/store"
)

const (
	// DefaultTxCostEstimate is a conservative per-message charge in
	// lamports; real fees drift around it and no true-up runs.
	DefaultTxCostEstimate uint64 = 5000
	DefaultDailyCap       uint64 = 500_000

	spendingRecordTTL = 24 * time.Hour
)

// SpendingGuard caps the estimated ledger cost one identifier can make the
// shared fee payer incur per UTC day. The check is a read-then-write, not an
// atomic increment: concurrent racers can transiently exceed the cap by one
// estimate each. That trade-off is part of the contract; tighten it only by
// swapping in an atomic increment primitive on the store.
type SpendingGuard struct {
	store    store.Store
	dailyCap uint64
	estimate uint64
	// failOpen admits relays when the store is unreachable; availability of
	// messaging over perfect spend enforcement.
	failOpen bool
	log      *slog.Logger
	now      func() time.Time
}

type spendingRecord struct {
	Total uint64 `json:"total"`
	Since int64  `json:"since"` // unix seconds of the first write of the day
}

func NewSpendingGuard(s store.Store, dailyCap, estimate uint64, failOpen bool, log *slog.Logger) *SpendingGuard {
	if dailyCap == 0 {
		dailyCap = DefaultDailyCap
	}
	if estimate == 0 {
		estimate = DefaultTxCostEstimate
	}
	if log == nil {
		log = slog.Default()
	}
	return &SpendingGuard{
		store:    s,
		dailyCap: dailyCap,
		estimate: estimate,
		failOpen: failOpen,
		log:      log,
		now:      time.Now,
	}
}

// Charge admits the relay and records its estimated cost, or rejects with
// KindSpendingCap once the identifier's daily total reaches the cap.
// Rejections never increment the total.
func (g *SpendingGuard) Charge(ctx context.Context, identifier string) error {
	now := g.now().UTC()
	key := store.SpendingKey(now.Format("2006-01-02"), identifier)

	rec, err := g.readRecord(ctx, key)
	if err != nil {
		return g.storeOutage("read", identifier, err)
	}

	if rec.Total >= g.dailyCap {
		g.log.Warn("daily spending limit exceeded",
			"identifier", identifier,
			"usage_lamports", rec.Total,
			"cap_lamports", g.dailyCap,
		)
		return spendingCapExceeded(rec.Total, g.dailyCap)
	}

	if rec.Since == 0 {
		rec.Since = now.Unix()
	}
	rec.Total += g.estimate

	// TTL counts from the first write of the day, so the record expires at
	// roughly, not exactly, the day rollover.
	ttl := spendingRecordTTL - now.Sub(time.Unix(rec.Since, 0))
	if ttl < time.Second {
		ttl = time.Second
	}
	value, _ := json.Marshal(rec)
	if err := g.store.Set(ctx, key, value, ttl); err != nil {
		return g.storeOutage("write", identifier, err)
	}
	return nil
}

// Usage reports the identifier's accumulated estimate for the current day.
func (g *SpendingGuard) Usage(ctx context.Context, identifier string) (uint64, error) {
	key := store.SpendingKey(g.now().UTC().Format("2006-01-02"), identifier)
	rec, err := g.readRecord(ctx, key)
	if err != nil {
		return 0, err
	}
	return rec.Total, nil
}

// Remaining reports how many lamports of estimate are left before the cap.
func (g *SpendingGuard) Remaining(ctx context.Context, identifier string) (uint64, error) {
	used, err := g.Usage(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if used >= g.dailyCap {
		return 0, nil
	}
	return g.dailyCap - used, nil
}

func (g *SpendingGuard) readRecord(ctx context.Context, key string) (spendingRecord, error) {
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return spendingRecord{}, nil
	}
	if err != nil {
		return spendingRecord{}, err
	}
	var rec spendingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt record counts as a fresh day rather than a dead lock.
		return spendingRecord{}, nil
	}
	return rec, nil
}

func (g *SpendingGuard) storeOutage(op, identifier string, err error) error {
	if g.failOpen {
		g.log.Error("spending guard store unavailable, failing open",
			"op", op, "identifier", identifier, "error", err)
		return nil
	}
	g.log.Error("spending guard store unavailable, failing closed",
		"op", op, "identifier", identifier, "error", err)
	return &RelayError{
		Kind:    KindSpendingCap,
		Message: "spending state unavailable",
		Hint:    "try again shortly",
		err:     err,
	}
}
