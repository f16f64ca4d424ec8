package domain

import (
	"bytes"
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mutation is a signed balance change on one account.
type Mutation struct {
	AccountID uuid.UUID
	Delta     decimal.Decimal
}

// Batch is applied atomically: every mutation lands and Entry is appended to
// the transaction log, or nothing changes.
type Batch struct {
	Mutations []Mutation
	Entry     *Transaction
}

// AccountIDs returns the distinct accounts of the batch in canonical lock
// order (ascending UUID bytes).
func (b *Batch) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.Mutations))
	for _, m := range b.Mutations {
		ids = append(ids, m.AccountID)
	}
	SortCanonical(ids)
	return slices.Compact(ids)
}

// Deltas sums the mutations per account.
func (b *Batch) Deltas() map[uuid.UUID]decimal.Decimal {
	deltas := make(map[uuid.UUID]decimal.Decimal, len(b.Mutations))
	for _, m := range b.Mutations {
		deltas[m.AccountID] = deltas[m.AccountID].Add(m.Delta)
	}
	return deltas
}

// SortCanonical orders ids the way every ledger store acquires locks.
func SortCanonical(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
}

// LedgerStore performs atomic read-modify-write on account balances.
type LedgerStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	// Apply locks the batch accounts in canonical order, checks that no balance
	// goes negative and commits balances and log entry together. A failed
	// precondition or a storage-level serialization failure returns
	// errors.ErrAborted. A resulting balance above MaxBalance returns
	// errors.ErrInvalidAmount. ctx is checked once the locks are held, so a
	// caller whose deadline expires while waiting is released only when the
	// current holder finishes, and nothing from its batch is applied.
	Apply(ctx context.Context, batch *Batch) error
}

// Store is the storage handle injected into every service.
type Store interface {
	LedgerStore
	User() UserRepository
	Account() AccountRepository
	Transaction() TransactionLog
	// OpenAccount creates the account and, when opening is non-nil, appends its
	// opening deposit in the same unit of work.
	OpenAccount(ctx context.Context, account *Account, opening *Transaction) error
	Ping(ctx context.Context) error
	Close() error
}
