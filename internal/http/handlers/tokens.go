package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type balanceResponse struct {
	Balance int `json:"balance"`
}

type transactionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balanceAfter"`
	ReasonCode   string    `json:"reasonCode"`
	ReferenceID  string    `json:"referenceId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TokenBalance returns the caller's current balance.
func (a *App) TokenBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not read token balance")
		return
	}
	a.json(w, http.StatusOK, balanceResponse{Balance: balance})
}

// TokenTransactions returns the caller's full ledger, oldest first.
func (a *App) TokenTransactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	txs, err := a.Ledger.Transactions(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not load transactions")
		return
	}
	items := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		items = append(items, transactionResponse{
			ID:           tx.ID,
			Type:         string(tx.Type),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			ReasonCode:   tx.ReasonCode,
			ReferenceID:  tx.ReferenceID,
			CreatedAt:    tx.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"transactions": items})
}

type creditRequest struct {
	Amount     int    `json:"amount"`
	ReasonCode string `json:"reasonCode"`
}

// CreditTokens applies a purchase or promotional credit to the caller's
// account. Payment verification happens upstream of this API.
func (a *App) CreditTokens(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Amount <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	reason := req.ReasonCode
	if reason == "" {
		reason = "token_purchase"
	}
	remaining, err := a.Ledger.Credit(r.Context(), userID, req.Amount, reason, "")
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: credit failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not apply credit")
		return
	}
	a.json(w, http.StatusOK, balanceResponse{Balance: remaining})
}
