package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

const transactionColumns = `seq, id, type, source_account_id, destination_account_id, amount, description, idempotency_key, created_at`

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionLog {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts an immutable log entry. Entries touching an account are
// written while that account's row is locked, so per account the seq order
// matches commit order and a cursor never skips a late commit.
func (r *transactionRepository) Append(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, type, source_account_id, destination_account_id, amount, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`

	now := time.Now().UTC()

	var seq int64
	err := r.db.QueryRowContext(ctx,
		query,
		tx.ID,
		string(tx.Type),
		nullUUID(tx.SourceAccountID),
		nullUUID(tx.DestinationAccountID),
		tx.Amount.StringFixed(domain.AmountScale),
		tx.Description,
		nullUUID(tx.IdempotencyKey),
		now,
	).Scan(&seq)

	if err != nil {
		if pqErr, ok := asPQError(err); ok {
			switch {
			case pqErr.Code == pqUniqueViolation && pqErr.Constraint == "uq_transactions_idempotency_key":
				r.logger.Warn("Duplicate idempotency key", "idempotency_key", tx.IdempotencyKey)
				return errors.ErrDuplicateTransaction
			case pqErr.Code == pqForeignKeyViolation:
				r.logger.Warn("Transaction references unknown account", "transaction_id", tx.ID)
				return errors.ErrAccountNotFound
			}
		}
		return translateError(r.logger, "append transaction", err)
	}

	tx.Seq = seq
	tx.CreatedAt = now
	r.logger.Info("Transaction appended", "transaction_id", tx.ID, "seq", seq, "type", tx.Type)
	return nil
}

func (r *transactionRepository) ListForAccount(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (source_account_id = $1 OR destination_account_id = $1) AND seq > $2
		ORDER BY seq
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, afterSeq, ClampPageLimit(limit))
	if err != nil {
		return nil, translateError(r.logger, "list transactions", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		transaction, err := scanTransactionRow(rows)
		if err != nil {
			return nil, translateError(r.logger, "scan transaction", err)
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(r.logger, "list transactions", err)
	}
	return transactions, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	transaction, err := scanTransactionRow(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateError(r.logger, "get transaction", err)
	}
	return transaction, nil
}

func scanTransactionRow(row rowScanner) (*domain.Transaction, error) {
	var transaction domain.Transaction
	var txType, amountStr string
	var source, destination, idempotencyKey uuid.NullUUID

	if err := row.Scan(
		&transaction.Seq,
		&transaction.ID,
		&txType,
		&source,
		&destination,
		&amountStr,
		&transaction.Description,
		&idempotencyKey,
		&transaction.CreatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}

	transaction.Type = domain.TransactionType(txType)
	transaction.Amount = amount
	transaction.SourceAccountID = uuidPtr(source)
	transaction.DestinationAccountID = uuidPtr(destination)
	transaction.IdempotencyKey = uuidPtr(idempotencyKey)
	return &transaction, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ClampPageLimit keeps list page sizes within 1..MaxPageLimit.
func ClampPageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}
