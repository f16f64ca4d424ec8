package service

import (
	"github.com/google/uuid"

	"atomic-ledger/internal/errors"
)

// ParseAccountID parses an account identifier received over the API.
func ParseAccountID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.ErrInvalidAccountID
	}
	return id, nil
}

// ParseUserID parses a user identifier received over the API.
func ParseUserID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.ErrInvalidInput.WithDetails("invalid user id")
	}
	return id, nil
}
