package service

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

// TransactionService is the transfer engine. Every balance change, whether a
// transfer, deposit or withdrawal, is validated here and handed to the ledger
// store as one atomic batch.
type TransactionService struct {
	store  domain.Store
	retry  RetryPolicy
	logger *slog.Logger
}

func NewTransactionService(store domain.Store, retry RetryPolicy, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		store:  store,
		retry:  retry,
		logger: logger,
	}
}

type TransferRequest struct {
	SourceAccountID string
	TargetAccountID string
	Amount          decimal.Decimal
	Description     string
	IdempotencyKey  *uuid.UUID
}

// Transfer moves Amount from the source to the target account. Validation
// runs in this order: amount, account existence, self transfer, funds. When
// the store aborts the batch the whole attempt, validation included, is
// retried within the retry budget.
func (s *TransactionService) Transfer(ctx context.Context, req *TransferRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing transfer",
		"source_account_id", req.SourceAccountID,
		"target_account_id", req.TargetAccountID,
		"amount", req.Amount,
		"idempotency_key", req.IdempotencyKey)

	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	sourceID, targetID, err := s.parseAccountIDs(req.SourceAccountID, req.TargetAccountID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(existing, sourceID, targetID, req.Amount)
	}

	var committed *domain.Transaction
	err = s.retry.run(ctx, s.logger, "transfer", func() error {
		tx, err := s.attemptTransfer(ctx, sourceID, targetID, req)
		if err != nil {
			return err
		}
		committed = tx
		return nil
	})
	if err != nil {
		prior, err := s.resolveDuplicate(ctx, req.IdempotencyKey, err)
		if err != nil {
			return nil, err
		}
		return s.replay(prior, sourceID, targetID, req.Amount)
	}

	s.logger.Info("Transfer completed successfully", "transaction_id", committed.ID, "seq", committed.Seq)
	return committed, nil
}

func (s *TransactionService) attemptTransfer(ctx context.Context, sourceID, targetID uuid.UUID, req *TransferRequest) (*domain.Transaction, error) {
	source, err := s.store.GetAccount(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, targetID); err != nil {
		return nil, err
	}

	if sourceID == targetID {
		return nil, errors.ErrSelfTransfer
	}

	if source.Balance.LessThan(req.Amount) {
		s.logger.Warn("Insufficient funds", "account_id", sourceID, "balance", source.Balance, "amount", req.Amount)
		return nil, errors.ErrInsufficientFunds
	}

	entry := &domain.Transaction{
		ID:                   uuid.New(),
		Type:                 domain.TransactionTransfer,
		SourceAccountID:      &sourceID,
		DestinationAccountID: &targetID,
		Amount:               req.Amount,
		Description:          describe(req.Description, "transfer"),
		IdempotencyKey:       req.IdempotencyKey,
	}

	batch := &domain.Batch{
		Mutations: []domain.Mutation{
			{AccountID: sourceID, Delta: req.Amount.Neg()},
			{AccountID: targetID, Delta: req.Amount},
		},
		Entry: entry,
	}

	if err := s.store.Apply(ctx, batch); err != nil {
		return nil, err
	}
	return entry, nil
}

// Deposit credits an account from outside the ledger.
func (s *TransactionService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	s.logger.Info("Processing deposit", "account_id", accountID, "amount", amount)

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	id, err := ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	var committed *domain.Transaction
	err = s.retry.run(ctx, s.logger, "deposit", func() error {
		if _, err := s.store.GetAccount(ctx, id); err != nil {
			return err
		}

		entry := &domain.Transaction{
			ID:                   uuid.New(),
			Type:                 domain.TransactionDeposit,
			DestinationAccountID: &id,
			Amount:               amount,
			Description:          describe(description, "deposit"),
		}
		batch := &domain.Batch{
			Mutations: []domain.Mutation{{AccountID: id, Delta: amount}},
			Entry:     entry,
		}
		if err := s.store.Apply(ctx, batch); err != nil {
			return err
		}
		committed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Withdraw debits an account to outside the ledger.
func (s *TransactionService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	s.logger.Info("Processing withdrawal", "account_id", accountID, "amount", amount)

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	id, err := ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	var committed *domain.Transaction
	err = s.retry.run(ctx, s.logger, "withdraw", func() error {
		account, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return errors.ErrInsufficientFunds
		}

		entry := &domain.Transaction{
			ID:              uuid.New(),
			Type:            domain.TransactionWithdrawal,
			SourceAccountID: &id,
			Amount:          amount,
			Description:     describe(description, "withdrawal"),
		}
		batch := &domain.Batch{
			Mutations: []domain.Mutation{{AccountID: id, Delta: amount.Neg()}},
			Entry:     entry,
		}
		if err := s.store.Apply(ctx, batch); err != nil {
			return err
		}
		committed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ListTransactions pages through an account's log in commit order. Pass the
// Seq of the last entry seen as afterSeq to continue.
func (s *TransactionService) ListTransactions(ctx context.Context, accountID string, afterSeq int64, limit int) ([]domain.Transaction, error) {
	id, err := ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	if afterSeq < 0 {
		return nil, errors.ErrInvalidInput.WithDetails("after must not be negative")
	}
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Transaction().ListForAccount(ctx, id, afterSeq, limit)
}

func (s *TransactionService) findByIdempotencyKey(ctx context.Context, key *uuid.UUID) (*domain.Transaction, error) {
	if key == nil {
		return nil, nil
	}
	existing, err := s.store.Transaction().GetByIdempotencyKey(ctx, *key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("Returning existing transaction for idempotency key",
			"idempotency_key", *key,
			"transaction_id", existing.ID)
	}
	return existing, nil
}

// resolveDuplicate handles the race where a concurrent request with the same
// idempotency key committed first.
func (s *TransactionService) resolveDuplicate(ctx context.Context, key *uuid.UUID, err error) (*domain.Transaction, error) {
	if key == nil || !stderrors.Is(err, errors.ErrDuplicateTransaction) {
		s.logger.Warn("Transfer failed", "error", err)
		return nil, err
	}
	existing, lookupErr := s.findByIdempotencyKey(ctx, key)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

// replay returns the transfer already stored under an idempotency key. A key
// first used with a different source, target or amount is a conflict.
func (s *TransactionService) replay(existing *domain.Transaction, sourceID, targetID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	if existing.Type == domain.TransactionTransfer &&
		existing.SourceAccountID != nil && *existing.SourceAccountID == sourceID &&
		existing.DestinationAccountID != nil && *existing.DestinationAccountID == targetID &&
		existing.Amount.Equal(amount) {
		return existing, nil
	}
	s.logger.Warn("Idempotency key reused for a different transfer", "transaction_id", existing.ID)
	return nil, errors.ErrDuplicateTransaction.WithDetails("idempotency key was already used for a different transfer")
}

func (s *TransactionService) parseAccountIDs(sourceIDStr, targetIDStr string) (uuid.UUID, uuid.UUID, error) {
	sourceID, err := ParseAccountID(sourceIDStr)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	targetID, err := ParseAccountID(targetIDStr)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	return sourceID, targetID, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !domain.HasValidScale(amount) {
		return errors.ErrInvalidAmount.WithDetails("at most 2 decimal places allowed")
	}
	if domain.ExceedsMaxBalance(amount) {
		return errors.ErrInvalidAmount.WithDetails("amount exceeds maximum of " + domain.MaxBalance.StringFixed(domain.AmountScale))
	}
	return nil
}

func describe(description, fallback string) string {
	if description == "" {
		return fallback
	}
	return description
}
