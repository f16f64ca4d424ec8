package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
	"atomic-ledger/internal/service"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes the error envelope. Errors that are not AppErrors are
// reported as internal errors without their details.
func writeError(w http.ResponseWriter, err error) {
	appErr := errors.AsAppError(err)
	if appErr.Code == errors.InternalError {
		slog.Error("Request failed", "error", err)
		appErr = errors.NewAppError(errors.InternalError, "an unexpected error occurred")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())

	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}
	if err := json.NewEncoder(w).Encode(Response{Error: &errResponse}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	return nil
}

type AccountResponse struct {
	AccountID     uuid.UUID `json:"account_id"`
	UserID        uuid.UUID `json:"user_id"`
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newAccountResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:     account.ID,
		UserID:        account.UserID,
		AccountNumber: account.AccountNumber,
		Balance:       account.Balance.StringFixed(domain.AmountScale),
		CreatedAt:     account.CreatedAt,
		UpdatedAt:     account.UpdatedAt,
	}
}

type TransactionResponse struct {
	TransactionID        uuid.UUID  `json:"transaction_id"`
	Seq                  int64      `json:"seq"`
	Type                 string     `json:"type"`
	SourceAccountID      *uuid.UUID `json:"source_account_id"`
	DestinationAccountID *uuid.UUID `json:"destination_account_id"`
	Amount               string     `json:"amount"`
	Description          string     `json:"description"`
	IdempotencyKey       *uuid.UUID `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func newTransactionResponse(tx *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:        tx.ID,
		Seq:                  tx.Seq,
		Type:                 string(tx.Type),
		SourceAccountID:      tx.SourceAccountID,
		DestinationAccountID: tx.DestinationAccountID,
		Amount:               tx.Amount.StringFixed(domain.AmountScale),
		Description:          tx.Description,
		IdempotencyKey:       tx.IdempotencyKey,
		CreatedAt:            tx.CreatedAt,
	}
}

func newTransactionResponses(txs []domain.Transaction) []TransactionResponse {
	responses := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		responses = append(responses, newTransactionResponse(&txs[i]))
	}
	return responses
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AccountDetailResponse struct {
	AccountResponse
	Transactions []TransactionResponse `json:"transactions"`
	NextAfter    *int64                `json:"next_after,omitempty"`
}

type UserDetailResponse struct {
	UserResponse
	Accounts []AccountDetailResponse `json:"accounts"`
}

func newUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
}

func newUserDetailResponse(detail *service.UserDetail) UserDetailResponse {
	response := UserDetailResponse{
		UserResponse: newUserResponse(&detail.User),
		Accounts:     make([]AccountDetailResponse, 0, len(detail.Accounts)),
	}
	for i := range detail.Accounts {
		account := &detail.Accounts[i]
		response.Accounts = append(response.Accounts, AccountDetailResponse{
			AccountResponse: newAccountResponse(&account.Account),
			Transactions:    newTransactionResponses(account.Transactions),
			NextAfter:       account.NextAfter,
		})
	}
	return response
}
