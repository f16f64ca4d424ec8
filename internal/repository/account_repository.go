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

const accountColumns = `id, user_id, account_number, balance, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, account_number, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		query,
		account.ID,
		account.UserID,
		account.AccountNumber,
		account.Balance.StringFixed(domain.AmountScale),
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := asPQError(err); ok {
			switch pqErr.Code {
			case pqUniqueViolation:
				r.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
				return errors.ErrDuplicateAccountNumber
			case pqForeignKeyViolation:
				r.logger.Warn("Account owner does not exist", "user_id", account.UserID)
				return errors.ErrUserNotFound
			}
		}
		return translateError(r.logger, "create account", err)
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created successfully", "account_id", account.ID, "user_id", account.UserID)
	return nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return r.scanAccount(ctx, query, id)
}

// GetAccountForUpdate takes the row lock held until the surrounding
// transaction ends.
func (r *accountRepository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) ListAccountsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, translateError(r.logger, "list accounts", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, translateError(r.logger, "scan account", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(r.logger, "list accounts", err)
	}
	return accounts, nil
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, id uuid.UUID) (*domain.Account, error) {
	account, err := scanAccountRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("Account not found", "account_id", id)
			return nil, errors.ErrAccountNotFound
		}
		return nil, translateError(r.logger, "get account", err)
	}
	return account, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, newBalance.StringFixed(domain.AmountScale), time.Now().UTC(), id)
	if err != nil {
		return translateError(r.logger, "update account balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError(r.logger, "get rows affected", err)
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id)
		return errors.ErrAccountNotFound
	}

	r.logger.Debug("Account balance updated", "account_id", id, "new_balance", newBalance)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	if err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.AccountNumber,
		&balanceStr,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, err
	}

	account.Balance = balance
	return &account, nil
}
