package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
	"atomic-ledger/internal/logging"
)

type MemoryStoreTestSuite struct {
	suite.Suite
	store *MemoryStore
	owner *domain.User
	ctx   context.Context
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore(logging.Discard())
	s.owner = &domain.User{ID: uuid.New(), Name: "Ada", Email: "ada@example.com"}
	s.Require().NoError(s.store.CreateUser(s.ctx, s.owner))
}

func (s *MemoryStoreTestSuite) newAccount(number, balance string) *domain.Account {
	account := &domain.Account{
		ID:            uuid.New(),
		UserID:        s.owner.ID,
		AccountNumber: number,
		Balance:       decimal.RequireFromString(balance),
	}
	s.Require().NoError(s.store.CreateAccount(s.ctx, account))
	return account
}

func transfer(from, to uuid.UUID, amount string) *domain.Batch {
	value := decimal.RequireFromString(amount)
	return &domain.Batch{
		Mutations: []domain.Mutation{
			{AccountID: from, Delta: value.Neg()},
			{AccountID: to, Delta: value},
		},
		Entry: &domain.Transaction{
			ID:                   uuid.New(),
			Type:                 domain.TransactionTransfer,
			SourceAccountID:      &from,
			DestinationAccountID: &to,
			Amount:               value,
			Description:          "transfer",
		},
	}
}

func (s *MemoryStoreTestSuite) balance(id uuid.UUID) decimal.Decimal {
	account, err := s.store.GetAccount(s.ctx, id)
	s.Require().NoError(err)
	return account.Balance
}

func (s *MemoryStoreTestSuite) TestCreateUserRejectsDuplicateEmail() {
	err := s.store.CreateUser(s.ctx, &domain.User{ID: uuid.New(), Name: "Other", Email: "ada@example.com"})
	s.True(stderrors.Is(err, errors.ErrDuplicateEmail))

	// Users without email never collide.
	s.NoError(s.store.CreateUser(s.ctx, &domain.User{ID: uuid.New(), Name: "A"}))
	s.NoError(s.store.CreateUser(s.ctx, &domain.User{ID: uuid.New(), Name: "B"}))
}

func (s *MemoryStoreTestSuite) TestOpenAccountChecksOwnerAndNumber() {
	s.newAccount("1000001", "0")

	err := s.store.CreateAccount(s.ctx, &domain.Account{ID: uuid.New(), UserID: s.owner.ID, AccountNumber: "1000001"})
	s.True(stderrors.Is(err, errors.ErrDuplicateAccountNumber))

	err = s.store.CreateAccount(s.ctx, &domain.Account{ID: uuid.New(), UserID: uuid.New(), AccountNumber: "1000002"})
	s.True(stderrors.Is(err, errors.ErrUserNotFound))

	_, err = s.store.GetUser(s.ctx, uuid.New())
	s.True(stderrors.Is(err, errors.ErrUserNotFound))
}

func (s *MemoryStoreTestSuite) TestApplyMovesFundsAndLogsOnce() {
	a := s.newAccount("1000001", "100")
	b := s.newAccount("1000002", "0")

	batch := transfer(a.ID, b.ID, "30.25")
	s.Require().NoError(s.store.Apply(s.ctx, batch))

	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("69.75")))
	s.True(s.balance(b.ID).Equal(decimal.RequireFromString("30.25")))
	s.EqualValues(1, batch.Entry.Seq)
	s.False(batch.Entry.CreatedAt.IsZero())

	fromA, err := s.store.ListForAccount(s.ctx, a.ID, 0, 10)
	s.Require().NoError(err)
	fromB, err := s.store.ListForAccount(s.ctx, b.ID, 0, 10)
	s.Require().NoError(err)

	s.Require().Len(fromA, 1)
	s.Require().Len(fromB, 1)
	s.Equal(fromA[0].ID, fromB[0].ID)
}

func (s *MemoryStoreTestSuite) TestApplyAbortsOnOverdraft() {
	a := s.newAccount("1000001", "10")
	b := s.newAccount("1000002", "0")

	err := s.store.Apply(s.ctx, transfer(a.ID, b.ID, "10.01"))
	s.True(stderrors.Is(err, errors.ErrAborted))

	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("10")))
	s.True(s.balance(b.ID).IsZero())

	entries, err := s.store.ListForAccount(s.ctx, b.ID, 0, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *MemoryStoreTestSuite) TestApplyRejectsBalanceAboveMaximum() {
	a := s.newAccount("1000001", "10")
	b := s.newAccount("1000002", domain.MaxBalance.Sub(decimal.NewFromInt(5)).String())

	err := s.store.Apply(s.ctx, transfer(a.ID, b.ID, "10"))
	s.True(stderrors.Is(err, errors.ErrInvalidAmount))
	s.False(errors.AsAppError(err).Retryable())

	s.True(s.balance(a.ID).Equal(decimal.NewFromInt(10)))
	s.True(s.balance(b.ID).Equal(domain.MaxBalance.Sub(decimal.NewFromInt(5))))

	entries, err := s.store.ListForAccount(s.ctx, a.ID, 0, 10)
	s.Require().NoError(err)
	s.Empty(entries)

	s.NoError(s.store.Apply(s.ctx, transfer(a.ID, b.ID, "5")))
	s.True(s.balance(b.ID).Equal(domain.MaxBalance))
}

func (s *MemoryStoreTestSuite) TestApplyUnknownAccount() {
	a := s.newAccount("1000001", "10")

	err := s.store.Apply(s.ctx, transfer(a.ID, uuid.New(), "1"))
	s.True(stderrors.Is(err, errors.ErrAccountNotFound))
	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("10")))
}

func (s *MemoryStoreTestSuite) TestApplyRejectsDuplicateIdempotencyKey() {
	a := s.newAccount("1000001", "100")
	b := s.newAccount("1000002", "0")
	key := uuid.New()

	first := transfer(a.ID, b.ID, "10")
	first.Entry.IdempotencyKey = &key
	s.Require().NoError(s.store.Apply(s.ctx, first))

	second := transfer(a.ID, b.ID, "10")
	second.Entry.IdempotencyKey = &key
	err := s.store.Apply(s.ctx, second)
	s.True(stderrors.Is(err, errors.ErrDuplicateTransaction))
	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("90")))

	found, err := s.store.GetByIdempotencyKey(s.ctx, key)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(first.Entry.ID, found.ID)

	missing, err := s.store.GetByIdempotencyKey(s.ctx, uuid.New())
	s.NoError(err)
	s.Nil(missing)
}

func (s *MemoryStoreTestSuite) TestApplyWithCancelledContext() {
	a := s.newAccount("1000001", "100")
	b := s.newAccount("1000002", "0")

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	err := s.store.Apply(ctx, transfer(a.ID, b.ID, "10"))
	s.True(stderrors.Is(err, errors.ErrRequestTimeout))
	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("100")))
}

func (s *MemoryStoreTestSuite) TestListForAccountCursor() {
	a := s.newAccount("1000001", "100")
	b := s.newAccount("1000002", "0")
	c := s.newAccount("1000003", "0")

	// Entries of other accounts interleave with b's.
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Apply(s.ctx, transfer(a.ID, b.ID, "1")))
		s.Require().NoError(s.store.Apply(s.ctx, transfer(a.ID, c.ID, "1")))
	}

	page, err := s.store.ListForAccount(s.ctx, b.ID, 0, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 2)

	rest, err := s.store.ListForAccount(s.ctx, b.ID, page[1].Seq, 2)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Greater(rest[0].Seq, page[1].Seq)

	done, err := s.store.ListForAccount(s.ctx, b.ID, rest[0].Seq, 2)
	s.Require().NoError(err)
	s.NotNil(done)
	s.Empty(done)
}

// A batch holding one pair of accounts must not block a batch over a
// disjoint pair.
func (s *MemoryStoreTestSuite) TestDisjointBatchesDoNotBlock() {
	a := s.newAccount("1000001", "100")
	c := s.newAccount("1000003", "100")
	d := s.newAccount("1000004", "100")

	s.store.mu.RLock()
	held := s.store.accounts[a.ID]
	s.store.mu.RUnlock()

	held.mu.Lock()
	defer held.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.store.Apply(s.ctx, transfer(c.ID, d.ID, "5")) }()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("batch over unrelated accounts waited on a held lock")
	}
}

// A batch touching a locked account waits and gives up when its context
// ends, leaving nothing applied.
func (s *MemoryStoreTestSuite) TestBlockedBatchHonoursContextAfterLocking() {
	a := s.newAccount("1000001", "100")
	b := s.newAccount("1000002", "0")

	s.store.mu.RLock()
	held := s.store.accounts[a.ID]
	s.store.mu.RUnlock()
	held.mu.Lock()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.store.Apply(ctx, transfer(a.ID, b.ID, "10")) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	held.mu.Unlock()

	err := <-done
	s.True(stderrors.Is(err, errors.ErrRequestTimeout))
	s.True(s.balance(a.ID).Equal(decimal.RequireFromString("100")))
}

func (s *MemoryStoreTestSuite) TestListAccountsForUser() {
	first := s.newAccount("1000001", "1")
	second := s.newAccount("1000002", "2")

	accounts, err := s.store.ListAccountsForUser(s.ctx, s.owner.ID)
	s.Require().NoError(err)
	s.Len(accounts, 2)
	ids := []uuid.UUID{accounts[0].ID, accounts[1].ID}
	s.ElementsMatch([]uuid.UUID{first.ID, second.ID}, ids)

	none, err := s.store.ListAccountsForUser(s.ctx, uuid.New())
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func TestClampPageLimit(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, ClampPageLimit(0))
	assert.Equal(t, DefaultPageLimit, ClampPageLimit(-5))
	assert.Equal(t, 10, ClampPageLimit(10))
	assert.Equal(t, MaxPageLimit, ClampPageLimit(MaxPageLimit+1))
}

func TestTranslateError(t *testing.T) {
	logger := logging.Discard()

	err := translateError(logger, "op", context.DeadlineExceeded)
	assert.True(t, stderrors.Is(err, errors.ErrRequestTimeout))

	err = translateError(logger, "op", errors.ErrAccountNotFound)
	assert.True(t, stderrors.Is(err, errors.ErrAccountNotFound))

	err = translateError(logger, "op", fmt.Errorf("update: %w", &pq.Error{Code: "40P01", Message: "deadlock detected"}))
	assert.True(t, stderrors.Is(err, errors.ErrAborted))
	assert.True(t, errors.AsAppError(err).Retryable())

	err = translateError(logger, "op", &pq.Error{Code: "22003", Message: "numeric field overflow"})
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAmount))
	assert.False(t, errors.AsAppError(err).Retryable())

	err = translateError(logger, "op", stderrors.New("boom"))
	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, errors.InternalError, appErr.Code)
	assert.Contains(t, appErr.Details, "boom")
}
