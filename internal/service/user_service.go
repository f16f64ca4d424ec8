package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

// detailTransactionLimit caps the entries embedded per account in a user
// detail; the account transactions endpoint pages through the rest.
const detailTransactionLimit = 50

type UserService struct {
	store  domain.Store
	logger *slog.Logger
}

func NewUserService(store domain.Store, logger *slog.Logger) *UserService {
	return &UserService{
		store:  store,
		logger: logger,
	}
}

// AccountDetail holds the first page of an account's log. NextAfter is set
// when the page is full and more entries may follow.
type AccountDetail struct {
	domain.Account
	Transactions []domain.Transaction
	NextAfter    *int64
}

type UserDetail struct {
	domain.User
	Accounts []AccountDetail
}

func (s *UserService) CreateUser(ctx context.Context, name, email string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, errors.ErrInvalidInput.WithDetails("name is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errors.ErrInvalidInput.WithDetails("invalid email address")
		}
	}

	user := &domain.User{
		ID:    uuid.New(),
		Name:  name,
		Email: email,
	}
	if err := s.store.User().CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.store.User().GetUser(ctx, id)
}

// GetUserDetail loads the user, its accounts and the first page of each
// account's log with explicit queries.
func (s *UserService) GetUserDetail(ctx context.Context, userID string) (*UserDetail, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	accounts, err := s.store.Account().ListAccountsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	detail := &UserDetail{User: *user, Accounts: make([]AccountDetail, 0, len(accounts))}
	for _, account := range accounts {
		transactions, err := s.store.Transaction().ListForAccount(ctx, account.ID, 0, detailTransactionLimit)
		if err != nil {
			return nil, err
		}
		accountDetail := AccountDetail{Account: account, Transactions: transactions}
		if len(transactions) == detailTransactionLimit {
			last := transactions[len(transactions)-1].Seq
			accountDetail.NextAfter = &last
		}
		detail.Accounts = append(detail.Accounts, accountDetail)
	}
	return detail, nil
}
