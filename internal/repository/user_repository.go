package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
)

type userRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewUserRepository(db SQLExecutor, logger *slog.Logger) domain.UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

func (r *userRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, $3, $4)`

	var email sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
	}

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Name, email, now); err != nil {
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
			r.logger.Warn("Duplicate user email", "email", user.Email)
			return errors.ErrDuplicateEmail
		}
		return translateError(r.logger, "create user", err)
	}

	user.CreatedAt = now
	r.logger.Info("User created successfully", "user_id", user.ID)
	return nil
}

func (r *userRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, name, email, created_at FROM users WHERE id = $1`

	var user domain.User
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Name, &email, &user.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("User not found", "user_id", id)
			return nil, errors.ErrUserNotFound
		}
		return nil, translateError(r.logger, "get user", err)
	}

	user.Email = email.String
	return &user, nil
}
