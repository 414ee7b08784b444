package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a store has no records for a transaction.
var ErrNotFound = errors.New("transaction not found")

// Store persists ledger records. Append must make the record durable before
// returning. Implementations must be safe for concurrent use by different
// transactions.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Load rebuilds a transaction from its records.
	Load(ctx context.Context, txID string) (*Transaction, error)
	// Pending lists transactions that never reached a terminal status.
	Pending(ctx context.Context) ([]string, error)
	Close() error
}
