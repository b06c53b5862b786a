package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process ledger used by tests and local development.
// It verifies fee-payer signatures, tracks balances loosely and redelivers
// whatever the caller asks for; ordering of query results is submission
// order, which pollers must not rely on.
type MemoryLedger struct {
	mu       sync.Mutex
	txs      []ConfirmedTransaction
	balances map[string]uint64
	height   uint64

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
	// FailSubmits makes every Submit return ErrSubmitFailed.
	FailSubmits bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]uint64),
		Clock:    time.Now,
	}
}

// Fund credits an account, standing in for an operator topping up the fee
// payer wallet.
func (l *MemoryLedger) Fund(account string, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += lamports
}

func (l *MemoryLedger) Submit(ctx context.Context, tx *Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	if l.FailSubmits {
		return "", fmt.Errorf("%w: node unavailable", ErrSubmitFailed)
	}
	if !tx.Verify() {
		return "", fmt.Errorf("%w: bad fee payer signature", ErrSubmitFailed)
	}
	ref, err := tx.Reference()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.height++
	l.txs = append(l.txs, ConfirmedTransaction{
		Reference: ref,
		FeePayer:  tx.FeePayer,
		Recipient: tx.Recipient,
		Lamports:  tx.Lamports,
		Memo:      append([]byte(nil), tx.Memo...),
		Timestamp: l.Clock(),
	})
	if l.balances[tx.FeePayer] >= tx.Lamports {
		l.balances[tx.FeePayer] -= tx.Lamports
	}
	l.balances[tx.Recipient] += tx.Lamports
	return ref, nil
}

func (l *MemoryLedger) TransactionsTo(ctx context.Context, recipient string, since time.Time) ([]ConfirmedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ConfirmedTransaction
	for _, tx := range l.txs {
		if tx.Recipient == recipient && tx.Timestamp.After(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Redeliver duplicates an already confirmed transaction in the query feed,
// simulating the at-least-once behavior of real ledger queries.
func (l *MemoryLedger) Redeliver(reference string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.txs {
		if tx.Reference == reference {
			l.txs = append(l.txs, tx)
			return true
		}
	}
	return false
}

func (l *MemoryLedger) Balance(ctx context.Context, account string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

func (l *MemoryLedger) Height(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height, nil
}
