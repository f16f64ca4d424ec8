package service

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

const (
	accountNumberDigits = 10
	// Generated numbers are redrawn this many times on collision.
	accountNumberAttempts = 3
	minAccountNumberLen   = 6
	maxAccountNumberLen   = 32
)

var maxInitialBalance = decimal.NewFromInt(10_000_000_000)

type AccountService struct {
	store  domain.Store
	logger *slog.Logger
}

func NewAccountService(store domain.Store, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
	}
}

type CreateAccountRequest struct {
	UserID         string
	InitialBalance decimal.Decimal
	// AccountNumber is generated when empty.
	AccountNumber string
}

func (s *AccountService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*domain.Account, error) {
	s.logger.Info("Creating account", "user_id", req.UserID, "initial_balance", req.InitialBalance)

	if req.InitialBalance.IsNegative() || !domain.HasValidScale(req.InitialBalance) {
		return nil, errors.ErrInvalidAmount
	}
	if req.InitialBalance.GreaterThan(maxInitialBalance) {
		return nil, errors.NewAppError(errors.InvalidAmount, "initial balance exceeds maximum limit")
	}
	if req.AccountNumber != "" {
		if err := validateAccountNumber(req.AccountNumber); err != nil {
			return nil, err
		}
	}

	userID, err := ParseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.User().GetUser(ctx, userID); err != nil {
		return nil, err
	}

	attempts := 1
	if req.AccountNumber == "" {
		attempts = accountNumberAttempts
	}

	for attempt := 1; ; attempt++ {
		number := req.AccountNumber
		if number == "" {
			if number, err = generateAccountNumber(); err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to generate account number").WithDetails(err.Error())
			}
		}

		account := &domain.Account{
			ID:            uuid.New(),
			UserID:        userID,
			AccountNumber: number,
			Balance:       req.InitialBalance,
		}

		err = s.store.OpenAccount(ctx, account, openingDeposit(account))
		if err == nil {
			s.logger.Info("Account created successfully", "account_id", account.ID, "account_number", number)
			return account, nil
		}
		if !stderrors.Is(err, errors.ErrDuplicateAccountNumber) || attempt >= attempts {
			return nil, err
		}
		s.logger.Warn("Generated account number collided, drawing another", "attempt", attempt)
	}
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.logger.Debug("Getting account", "account_id", accountID)

	id, err := ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	return s.store.GetAccount(ctx, id)
}

// openingDeposit records a positive initial balance in the log so that
// replaying an account's entries reproduces its balance.
func openingDeposit(account *domain.Account) *domain.Transaction {
	if !account.Balance.IsPositive() {
		return nil
	}
	id := account.ID
	return &domain.Transaction{
		ID:                   uuid.New(),
		Type:                 domain.TransactionDeposit,
		DestinationAccountID: &id,
		Amount:               account.Balance,
		Description:          "initial deposit",
	}
}

func validateAccountNumber(number string) error {
	if len(number) < minAccountNumberLen || len(number) > maxAccountNumberLen {
		return errors.ErrInvalidInput.WithDetails(
			fmt.Sprintf("account number must have %d to %d digits", minAccountNumberLen, maxAccountNumberLen))
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return errors.ErrInvalidInput.WithDetails("account number must contain digits only")
		}
	}
	return nil
}

func generateAccountNumber() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(accountNumberDigits), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", accountNumberDigits, n), nil
}
