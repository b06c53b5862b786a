// Package ledger consumes the external append-only ledger through two
// primitives: submit a transaction, query transactions addressed to a key.
// Consensus, fees and the account model all live on the other side of this
// boundary.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSubmitFailed means the ledger rejected or never acknowledged the
	// transaction. When it wraps a context deadline the outcome is unknown:
	// the transaction may still land, so callers must not blindly resubmit.
	ErrSubmitFailed = errors.New("ledger submission failed")
)

// ConfirmedTransaction is a transaction the ledger reports as accepted.
// Delivery to pollers is at-least-once and not necessarily ordered.
type ConfirmedTransaction struct {
	Reference string    `json:"reference"`
	FeePayer  string    `json:"feePayer"`
	Recipient string    `json:"recipient"`
	Lamports  uint64    `json:"lamports"`
	Memo      []byte    `json:"memo"`
	Timestamp time.Time `json:"timestamp"`
}

type Ledger interface {
	// Submit posts a signed transaction and returns its reference.
	Submit(ctx context.Context, tx *Transaction) (string, error)
	// TransactionsTo lists confirmed transactions addressed to recipient
	// with a timestamp strictly after since, so a poller can echo the last
	// timestamp it saw without being handed that record again.
	TransactionsTo(ctx context.Context, recipient string, since time.Time) ([]ConfirmedTransaction, error)
	// Balance reports the lamport balance of an account.
	Balance(ctx context.Context, account string) (uint64, error)
	// Height reports the current ledger height.
	Height(ctx context.Context) (uint64, error)
}
