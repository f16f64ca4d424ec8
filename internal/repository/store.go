package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

// Store is the Postgres ledger store. It hands out repositories bound to the
// current executor and runs units of work in a database transaction.
type Store struct {
	db       *sql.DB
	executor SQLExecutor
	logger   *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// User returns a UserRepository using the current executor
func (s *Store) User() domain.UserRepository {
	return NewUserRepository(s.executor, s.logger)
}

// Account returns an AccountRepository using the current executor
func (s *Store) Account() domain.AccountRepository {
	return s.accounts()
}

// Transaction returns the TransactionLog using the current executor
func (s *Store) Transaction() domain.TransactionLog {
	return NewTransactionRepository(s.executor, s.logger)
}

func (s *Store) accounts() *accountRepository {
	return &accountRepository{db: s.executor, logger: s.logger}
}

// GetAccount reads the committed balance without taking row locks.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.accounts().GetAccount(ctx, id)
}

// Apply locks the batch accounts with SELECT ... FOR UPDATE in canonical
// order, so two batches over the same pair can never wait on each other in a
// cycle. Balances and the log entry commit in one transaction.
func (s *Store) Apply(ctx context.Context, batch *domain.Batch) error {
	return s.WithTransaction(ctx, func(tx *Store) error {
		accounts := tx.accounts()
		deltas := batch.Deltas()

		for _, id := range batch.AccountIDs() {
			account, err := accounts.GetAccountForUpdate(ctx, id)
			if err != nil {
				return err
			}

			newBalance := account.Balance.Add(deltas[id])
			if newBalance.IsNegative() {
				s.logger.Warn("Batch would overdraw account", "account_id", id,
					"balance", account.Balance, "delta", deltas[id])
				return errors.ErrAborted.WithDetails(fmt.Sprintf("balance of %s would become negative", id))
			}
			if domain.ExceedsMaxBalance(newBalance) {
				return errors.ErrInvalidAmount.WithDetails(fmt.Sprintf("balance of %s would exceed the maximum", id))
			}

			if err := accounts.UpdateAccountBalance(ctx, id, newBalance); err != nil {
				return err
			}
		}

		if batch.Entry != nil {
			return tx.Transaction().Append(ctx, batch.Entry)
		}
		return nil
	})
}

// OpenAccount inserts the account and its opening deposit in one transaction.
func (s *Store) OpenAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	return s.WithTransaction(ctx, func(tx *Store) error {
		if err := tx.Account().CreateAccount(ctx, account); err != nil {
			return err
		}
		if opening != nil {
			return tx.Transaction().Append(ctx, opening)
		}
		return nil
	})
}

// WithTransaction executes a function within a database transaction. The
// transaction is bound to ctx, so cancellation rolls it back.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	if s.db == nil {
		return errors.NewAppError(errors.InternalError, "cannot begin a nested transaction")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translateError(s.logger, "begin transaction", err)
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return translateError(s.logger, "run transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return translateError(s.logger, "commit transaction", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
