package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
	"atomic-ledger/internal/logging"
	"atomic-ledger/internal/repository"
)

func TestCreateAccountGeneratesNumber(t *testing.T) {
	f := newFixture(t)

	account := f.openAccount(t, "25.50")

	assert.Len(t, account.AccountNumber, accountNumberDigits)
	assert.NoError(t, validateAccountNumber(account.AccountNumber))
	assert.Equal(t, f.owner.ID, account.UserID)
	assert.False(t, account.CreatedAt.IsZero())
}

func TestCreateAccountRecordsOpeningDeposit(t *testing.T) {
	f := newFixture(t)

	funded := f.openAccount(t, "25.50")
	entries := f.entries(t, funded.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionDeposit, entries[0].Type)
	assert.Equal(t, "initial deposit", entries[0].Description)
	assert.True(t, entries[0].Amount.Equal(dec("25.50")))
	assert.Nil(t, entries[0].SourceAccountID)

	empty := f.openAccount(t, "0")
	assert.Empty(t, f.entries(t, empty.ID))
}

func TestCreateAccountWithExplicitNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accounts.CreateAccount(ctx, &CreateAccountRequest{
		UserID:         f.owner.ID.String(),
		InitialBalance: dec("1"),
		AccountNumber:  "12345678",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345678", account.AccountNumber)

	_, err = f.accounts.CreateAccount(ctx, &CreateAccountRequest{
		UserID:         f.owner.ID.String(),
		InitialBalance: dec("1"),
		AccountNumber:  "12345678",
	})
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateAccountNumber))
}

func TestCreateAccountValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.owner.ID.String()

	tests := []struct {
		name string
		req  *CreateAccountRequest
		want *errors.AppError
	}{
		{"negative balance", &CreateAccountRequest{UserID: owner, InitialBalance: dec("-1")}, errors.ErrInvalidAmount},
		{"too many decimals", &CreateAccountRequest{UserID: owner, InitialBalance: dec("1.001")}, errors.ErrInvalidAmount},
		{"above limit", &CreateAccountRequest{UserID: owner, InitialBalance: dec("10000000000.01")}, errors.ErrInvalidAmount},
		{"short number", &CreateAccountRequest{UserID: owner, AccountNumber: "123"}, errors.ErrInvalidInput},
		{"non digit number", &CreateAccountRequest{UserID: owner, AccountNumber: "12345a78"}, errors.ErrInvalidInput},
		{"malformed user id", &CreateAccountRequest{UserID: "abc"}, errors.ErrInvalidInput},
		{"unknown user", &CreateAccountRequest{UserID: uuid.NewString()}, errors.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.accounts.CreateAccount(context.Background(), tt.req)
			assert.True(t, stderrors.Is(err, tt.want), "got %v", err)
		})
	}

	accounts, err := f.store.ListAccountsForUser(context.Background(), f.owner.ID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCreateAccountRedrawsCollidingNumber(t *testing.T) {
	store := &mockStore{}
	users := repository.NewMemoryStore(logging.Discard())
	owner := &domain.User{ID: uuid.New(), Name: "Grace"}
	require.NoError(t, users.CreateUser(context.Background(), owner))

	store.On("User").Return(users)
	store.On("OpenAccount", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.ErrDuplicateAccountNumber).Twice()
	store.On("OpenAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	svc := NewAccountService(store, logging.Discard())
	account, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{UserID: owner.ID.String()})

	require.NoError(t, err)
	assert.Len(t, account.AccountNumber, accountNumberDigits)
	store.AssertNumberOfCalls(t, "OpenAccount", 3)
}

func TestCreateAccountGivesUpOnRepeatedCollisions(t *testing.T) {
	store := &mockStore{}
	users := repository.NewMemoryStore(logging.Discard())
	owner := &domain.User{ID: uuid.New(), Name: "Grace"}
	require.NoError(t, users.CreateUser(context.Background(), owner))

	store.On("User").Return(users)
	store.On("OpenAccount", mock.Anything, mock.Anything, mock.Anything).Return(errors.ErrDuplicateAccountNumber)

	svc := NewAccountService(store, logging.Discard())
	_, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{UserID: owner.ID.String()})

	assert.True(t, stderrors.Is(err, errors.ErrDuplicateAccountNumber))
	store.AssertNumberOfCalls(t, "OpenAccount", accountNumberAttempts)
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t)
	created := f.openAccount(t, "42")

	account, err := f.accounts.GetAccount(context.Background(), created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.AccountNumber, account.AccountNumber)
	assert.True(t, account.Balance.Equal(dec("42")))

	_, err = f.accounts.GetAccount(context.Background(), uuid.NewString())
	assert.True(t, stderrors.Is(err, errors.ErrAccountNotFound))

	_, err = f.accounts.GetAccount(context.Background(), "42")
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAccountID))
}

func TestGenerateAccountNumber(t *testing.T) {
	for i := 0; i < 20; i++ {
		number, err := generateAccountNumber()
		require.NoError(t, err)
		assert.Len(t, number, accountNumberDigits)
		assert.NoError(t, validateAccountNumber(number))
	}
}
