package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// Transaction is an immutable ledger entry. Deposits have no source account and
// withdrawals have no destination account.
type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	Seq                  int64           `json:"seq"`
	Type                 TransactionType `json:"type"`
	SourceAccountID      *uuid.UUID      `json:"source_account_id"`
	DestinationAccountID *uuid.UUID      `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	IdempotencyKey       *uuid.UUID      `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Involves reports whether the account is the source or destination of t.
func (t *Transaction) Involves(accountID uuid.UUID) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == accountID) ||
		(t.DestinationAccountID != nil && *t.DestinationAccountID == accountID)
}

// TransactionLog is the append-only record of committed mutations.
type TransactionLog interface {
	// Append assigns Seq and CreatedAt.
	Append(ctx context.Context, tx *Transaction) error
	// ListForAccount returns entries with Seq > afterSeq in ascending Seq order.
	ListForAccount(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]Transaction, error)
	// GetByIdempotencyKey returns nil, nil when no entry carries the key.
	GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*Transaction, error)
}
