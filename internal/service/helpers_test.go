package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/logging"
	"atomic-ledger/internal/repository"
)

type fixture struct {
	store        *repository.MemoryStore
	users        *UserService
	accounts     *AccountService
	transactions *TransactionService
	owner        *domain.User
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logging.Discard()
	store := repository.NewMemoryStore(logger)
	f := &fixture{
		store:        store,
		users:        NewUserService(store, logger),
		accounts:     NewAccountService(store, logger),
		transactions: NewTransactionService(store, testRetryPolicy(), logger),
	}

	owner, err := f.users.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")
	require.NoError(t, err)
	f.owner = owner
	return f
}

func (f *fixture) openAccount(t *testing.T, balance string) *domain.Account {
	t.Helper()

	account, err := f.accounts.CreateAccount(context.Background(), &CreateAccountRequest{
		UserID:         f.owner.ID.String(),
		InitialBalance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()

	account, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func (f *fixture) entries(t *testing.T, id uuid.UUID) []domain.Transaction {
	t.Helper()

	entries, err := f.store.ListForAccount(context.Background(), id, 0, repository.MaxPageLimit)
	require.NoError(t, err)
	return entries
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockStore is a domain.Store whose calls are scripted per test.
type mockStore struct {
	mock.Mock
}

var _ domain.Store = (*mockStore)(nil)

func (m *mockStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*domain.Account)
	return account, args.Error(1)
}

func (m *mockStore) Apply(ctx context.Context, batch *domain.Batch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *mockStore) OpenAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	return m.Called(ctx, account, opening).Error(0)
}

func (m *mockStore) User() domain.UserRepository        { return m.Called().Get(0).(domain.UserRepository) }
func (m *mockStore) Account() domain.AccountRepository  { return m.Called().Get(0).(domain.AccountRepository) }
func (m *mockStore) Transaction() domain.TransactionLog { return m.Called().Get(0).(domain.TransactionLog) }
func (m *mockStore) Ping(ctx context.Context) error     { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                       { return m.Called().Error(0) }
