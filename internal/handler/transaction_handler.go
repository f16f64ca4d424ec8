package handler

import (
	"net/http"

	"github.com/google/uuid"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
	"atomic-ledger/internal/service"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
}

func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

type TransferRequest struct {
	SourceAccountID string `json:"source_account_id"`
	TargetAccountID string `json:"target_account_id"`
	Amount          string `json:"amount"`
	Description     string `json:"description,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	var idempotencyKey *uuid.UUID
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			writeError(w, errors.ErrInvalidInput.WithDetails("invalid idempotency_key format"))
			return
		}
		idempotencyKey = &key
	}

	tx, err := h.transactionService.Transfer(r.Context(), &service.TransferRequest{
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		Amount:          amount,
		Description:     req.Description,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}
