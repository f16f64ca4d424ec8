package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/errors"
	"atomic-ledger/internal/repository"
	"atomic-ledger/internal/service"
)

type AccountHandler struct {
	accountService     *service.AccountService
	transactionService *service.TransactionService
}

func NewAccountHandler(accountService *service.AccountService, transactionService *service.TransactionService) *AccountHandler {
	return &AccountHandler{
		accountService:     accountService,
		transactionService: transactionService,
	}
}

type CreateAccountRequest struct {
	UserID         string `json:"user_id"`
	InitialBalance string `json:"initial_balance,omitempty"`
	AccountNumber  string `json:"account_number,omitempty"`
}

type MovementRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type TransactionPage struct {
	Transactions []TransactionResponse `json:"transactions"`
	// NextAfter is the cursor for the following page, absent on the last one.
	NextAfter *int64 `json:"next_after,omitempty"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	initialBalance := decimal.Zero
	if req.InitialBalance != "" {
		var err error
		if initialBalance, err = domain.ParseAmount(req.InitialBalance); err != nil {
			writeError(w, err)
			return
		}
	}

	account, err := h.accountService.CreateAccount(r.Context(), &service.CreateAccountRequest{
		UserID:         req.UserID,
		InitialBalance: initialBalance,
		AccountNumber:  req.AccountNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeMovement(w, r)
	if !ok {
		return
	}

	tx, err := h.transactionService.Deposit(r.Context(), mux.Vars(r)["account_id"], amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeMovement(w, r)
	if !ok {
		return
	}

	tx, err := h.transactionService.Withdraw(r.Context(), mux.Vars(r)["account_id"], amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

// ListTransactions serves one page of the account's log. Clients pass the
// returned next_after back as ?after= to continue.
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var afterSeq int64
	if v := query.Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, errors.ErrInvalidInput.WithDetails("after must be an integer"))
			return
		}
		afterSeq = parsed
	}

	var limit int
	if v := query.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, errors.ErrInvalidInput.WithDetails("limit must be an integer"))
			return
		}
		limit = parsed
	}

	txs, err := h.transactionService.ListTransactions(r.Context(), mux.Vars(r)["account_id"], afterSeq, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	page := TransactionPage{Transactions: newTransactionResponses(txs)}
	if n := len(txs); n > 0 && n == repository.ClampPageLimit(limit) {
		next := txs[n-1].Seq
		page.NextAfter = &next
	}

	writeJSON(w, http.StatusOK, page)
}

func decodeMovement(w http.ResponseWriter, r *http.Request) (*MovementRequest, decimal.Decimal, bool) {
	var req MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return nil, decimal.Zero, false
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return nil, decimal.Zero, false
	}
	return &req, amount, true
}
