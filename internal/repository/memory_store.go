package repository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

// MemoryStore is an in-process ledger store. Every account carries its own
// lock; Apply takes the locks of the batch accounts in canonical order and
// nothing else, so batches over disjoint accounts run in parallel.
//
// Lock order: mu (released before any account lock is taken), account locks
// in canonical order, then logMu.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]domain.User
	emails   map[string]uuid.UUID
	accounts map[uuid.UUID]*memoryAccount
	numbers  map[string]uuid.UUID

	logMu     sync.RWMutex
	entries   []domain.Transaction
	byAccount map[uuid.UUID][]int
	byKey     map[uuid.UUID]int

	logger *slog.Logger
}

type memoryAccount struct {
	mu      sync.RWMutex
	account domain.Account
}

var _ domain.Store = (*MemoryStore)(nil)

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]domain.User),
		emails:    make(map[string]uuid.UUID),
		accounts:  make(map[uuid.UUID]*memoryAccount),
		numbers:   make(map[string]uuid.UUID),
		byAccount: make(map[uuid.UUID][]int),
		byKey:     make(map[uuid.UUID]int),
		logger:    logger,
	}
}

func (s *MemoryStore) User() domain.UserRepository        { return s }
func (s *MemoryStore) Account() domain.AccountRepository  { return s }
func (s *MemoryStore) Transaction() domain.TransactionLog { return s }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }
func (s *MemoryStore) Close() error                   { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return translateError(s.logger, "create user", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email != "" {
		if _, taken := s.emails[user.Email]; taken {
			s.logger.Warn("Duplicate user email", "email", user.Email)
			return errors.ErrDuplicateEmail
		}
		s.emails[user.Email] = user.ID
	}

	user.CreatedAt = time.Now().UTC()
	s.users[user.ID] = *user
	s.logger.Info("User created successfully", "user_id", user.ID)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateError(s.logger, "get user", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	return &user, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	return s.OpenAccount(ctx, account, nil)
}

func (s *MemoryStore) OpenAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return translateError(s.logger, "create account", err)
	}
	if account.Balance.IsNegative() {
		return errors.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[account.UserID]; !ok {
		s.logger.Warn("Account owner does not exist", "user_id", account.UserID)
		return errors.ErrUserNotFound
	}
	if _, taken := s.numbers[account.AccountNumber]; taken {
		s.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
		return errors.ErrDuplicateAccountNumber
	}

	now := time.Now().UTC()
	if opening != nil {
		s.logMu.Lock()
		defer s.logMu.Unlock()
		if err := s.checkKeyLocked(opening); err != nil {
			return err
		}
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = &memoryAccount{account: *account}
	s.numbers[account.AccountNumber] = account.ID

	if opening != nil {
		s.appendLocked(opening, now)
	}

	s.logger.Info("Account created successfully", "account_id", account.ID, "user_id", account.UserID)
	return nil
}

// GetAccount returns a snapshot taken under the account's shared lock.
func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateError(s.logger, "get account", err)
	}

	s.mu.RLock()
	cell, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrAccountNotFound
	}

	cell.mu.RLock()
	defer cell.mu.RUnlock()
	account := cell.account
	return &account, nil
}

func (s *MemoryStore) ListAccountsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateError(s.logger, "list accounts", err)
	}

	s.mu.RLock()
	cells := make([]*memoryAccount, 0)
	for _, cell := range s.accounts {
		if cell.account.UserID == userID {
			cells = append(cells, cell)
		}
	}
	s.mu.RUnlock()

	accounts := make([]domain.Account, 0, len(cells))
	for _, cell := range cells {
		cell.mu.RLock()
		accounts = append(accounts, cell.account)
		cell.mu.RUnlock()
	}

	slices.SortFunc(accounts, func(a, b domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return accounts, nil
}

func (s *MemoryStore) Apply(ctx context.Context, batch *domain.Batch) error {
	ids := batch.AccountIDs()

	s.mu.RLock()
	cells := make([]*memoryAccount, 0, len(ids))
	for _, id := range ids {
		cell, ok := s.accounts[id]
		if !ok {
			s.mu.RUnlock()
			return errors.ErrAccountNotFound
		}
		cells = append(cells, cell)
	}
	s.mu.RUnlock()

	for _, cell := range cells {
		cell.mu.Lock()
		defer cell.mu.Unlock()
	}

	// A caller that gave up while waiting for the locks must not commit.
	if err := ctx.Err(); err != nil {
		return translateError(s.logger, "apply batch", err)
	}

	deltas := batch.Deltas()
	balances := make([]decimal.Decimal, len(cells))
	for i, cell := range cells {
		balances[i] = cell.account.Balance.Add(deltas[cell.account.ID])
		if balances[i].IsNegative() {
			s.logger.Warn("Batch would overdraw account", "account_id", cell.account.ID,
				"balance", cell.account.Balance, "delta", deltas[cell.account.ID])
			return errors.ErrAborted.WithDetails(fmt.Sprintf("balance of %s would become negative", cell.account.ID))
		}
		if domain.ExceedsMaxBalance(balances[i]) {
			return errors.ErrInvalidAmount.WithDetails(fmt.Sprintf("balance of %s would exceed the maximum", cell.account.ID))
		}
	}

	if entry := batch.Entry; entry != nil {
		for _, ref := range []*uuid.UUID{entry.SourceAccountID, entry.DestinationAccountID} {
			if ref != nil && !slices.Contains(ids, *ref) {
				return errors.NewAppError(errors.InternalError, "log entry references an account outside the batch")
			}
		}

		s.logMu.Lock()
		defer s.logMu.Unlock()
		if err := s.checkKeyLocked(entry); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for i, cell := range cells {
		cell.account.Balance = balances[i]
		cell.account.UpdatedAt = now
	}
	if batch.Entry != nil {
		s.appendLocked(batch.Entry, now)
	}
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, tx *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return translateError(s.logger, "append transaction", err)
	}

	s.mu.RLock()
	for _, ref := range []*uuid.UUID{tx.SourceAccountID, tx.DestinationAccountID} {
		if ref != nil {
			if _, ok := s.accounts[*ref]; !ok {
				s.mu.RUnlock()
				return errors.ErrAccountNotFound
			}
		}
	}
	s.mu.RUnlock()

	s.logMu.Lock()
	defer s.logMu.Unlock()
	if err := s.checkKeyLocked(tx); err != nil {
		return err
	}
	s.appendLocked(tx, time.Now().UTC())
	return nil
}

func (s *MemoryStore) ListForAccount(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateError(s.logger, "list transactions", err)
	}
	limit = ClampPageLimit(limit)

	s.logMu.RLock()
	defer s.logMu.RUnlock()

	positions := s.byAccount[accountID]
	// Seq is the entry's index + 1, so the first position after the cursor is
	// found by binary search.
	start, _ := slices.BinarySearch(positions, int(afterSeq))
	end := min(start+limit, len(positions))

	transactions := make([]domain.Transaction, 0, end-start)
	for _, pos := range positions[start:end] {
		transactions = append(transactions, s.entries[pos])
	}
	return transactions, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateError(s.logger, "get transaction", err)
	}

	s.logMu.RLock()
	defer s.logMu.RUnlock()

	pos, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	transaction := s.entries[pos]
	return &transaction, nil
}

func (s *MemoryStore) checkKeyLocked(tx *domain.Transaction) error {
	if tx.IdempotencyKey == nil {
		return nil
	}
	if _, exists := s.byKey[*tx.IdempotencyKey]; exists {
		s.logger.Warn("Duplicate idempotency key", "idempotency_key", *tx.IdempotencyKey)
		return errors.ErrDuplicateTransaction
	}
	return nil
}

func (s *MemoryStore) appendLocked(tx *domain.Transaction, now time.Time) {
	pos := len(s.entries)
	tx.Seq = int64(pos + 1)
	tx.CreatedAt = now
	s.entries = append(s.entries, *tx)

	for _, ref := range []*uuid.UUID{tx.SourceAccountID, tx.DestinationAccountID} {
		if ref != nil {
			s.byAccount[*ref] = append(s.byAccount[*ref], pos)
		}
	}
	if tx.IdempotencyKey != nil {
		s.byKey[*tx.IdempotencyKey] = pos
	}
	s.logger.Info("Transaction appended", "transaction_id", tx.ID, "seq", tx.Seq, "type", tx.Type)
}
