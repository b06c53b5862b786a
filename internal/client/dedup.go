// Package client implements the consumer side of the relay: polling the
// inbox, suppressing redelivered records and decrypting payloads.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"key-chat/relay-gateway/internal/store"
)

// DefaultDedupCapacity bounds the processed-signature window. The ledger
// redelivers within a bounded horizon, so a window larger than any realistic
// redelivery gap is enough; evicting the oldest entry beyond that is safe.
const DefaultDedupCapacity = 1000

// DedupTracker remembers which transaction signatures have already been
// surfaced. It keeps insertion order so the oldest entries are evicted first
// once the capacity is reached.
type DedupTracker struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

func NewDedupTracker(capacity int) *DedupTracker {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupTracker{
		seen:     make(map[string]struct{}),
		capacity: capacity,
	}
}

func (d *DedupTracker) IsProcessed(signature string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[signature]
	return ok
}

// MarkProcessed records a signature, evicting the oldest entry when full.
// Marking an already known signature is a no-op.
func (d *DedupTracker) MarkProcessed(signature string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[signature]; ok {
		return
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[signature] = struct{}{}
	d.order = append(d.order, signature)
}

func (d *DedupTracker) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// Save snapshots the window to the store so a restart does not re-surface
// the whole inbox.
func (d *DedupTracker) Save(ctx context.Context, s store.Store, ownerPubkey string) error {
	d.mu.Lock()
	snapshot := append([]string(nil), d.order...)
	d.mu.Unlock()
	value, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.Set(ctx, store.ProcessedKey(ownerPubkey), value, 0)
}

// Load restores a previously saved window. A missing snapshot leaves the
// tracker empty.
func (d *DedupTracker) Load(ctx context.Context, s store.Store, ownerPubkey string) error {
	raw, err := s.Get(ctx, store.ProcessedKey(ownerPubkey))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var snapshot []string
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return err
	}
	for _, sig := range snapshot {
		d.MarkProcessed(sig)
	}
	return nil
}
