package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/pipeline"
)

type withdrawPayload struct {
	TransactionID  string `json:"transactionId"`
	Amount         int64  `json:"amount"`
	PaymentRequest string `json:"paymentRequest"`
}

type withdrawResponse struct {
	TransactionID string   `json:"transactionId"`
	Status        string   `json:"status"`
	NewBalance    *int64   `json:"newBalance,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	acctID, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var payload withdrawPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.cfg.Service.Withdraw(r.Context(), pipeline.WithdrawRequest{
		TransactionID:  payload.TransactionID,
		AccountID:      acctID,
		Amount:         payload.Amount,
		PaymentRequest: payload.PaymentRequest,
		Meta:           requestMeta(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := withdrawResponse{
		TransactionID: res.Transaction.ID,
		Status:        string(res.Transaction.Status),
		Warnings:      res.Warnings,
	}
	// A withdrawal parked for review presents as plain processing; the user
	// must not learn that a manual approval step exists.
	if res.Transaction.Status == ledger.StatusPendingApproval {
		resp.Status = string(ledger.StatusProcessing)
	}
	if res.Transaction.Status == ledger.StatusCompleted {
		balance := res.NewBalance
		resp.NewBalance = &balance
	}
	writeJSON(w, http.StatusOK, resp)
}

type transferPayload struct {
	TransactionID string `json:"transactionId"`
	Receiver      string `json:"receiver"`
	Amount        int64  `json:"amount"`
	Memo          string `json:"memo"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	acctID, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var payload transferPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.cfg.Service.Transfer(r.Context(), pipeline.TransferRequest{
		TransactionID: payload.TransactionID,
		SenderID:      acctID,
		Receiver:      payload.Receiver,
		Amount:        payload.Amount,
		Memo:          payload.Memo,
		Meta:          requestMeta(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"senderTxId":         res.SenderTx.ID,
		"receiverTxId":       res.ReceiverTx.ID,
		"receiverNewBalance": res.ReceiverNewBalance,
	})
}

type depositPayload struct {
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"accountId"`
	Amount        int64  `json:"amount"`
	Memo          string `json:"memo"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var payload depositPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, newBalance, err := h.cfg.Service.Deposit(r.Context(), pipeline.DepositRequest{
		TransactionID: payload.TransactionID,
		AccountID:     payload.AccountID,
		Amount:        payload.Amount,
		Memo:          payload.Memo,
		Meta:          requestMeta(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactionId": tx.ID,
		"status":        string(tx.Status),
		"newBalance":    newBalance,
	})
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.cfg.Accounts.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       acct.ID,
		"username": acct.Username,
		"balance":  acct.Balance,
		"status":   string(acct.Status),
	})
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.cfg.Reconciler.Check(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type transactionResponse struct {
	ID             string `json:"id"`
	AccountID      string `json:"accountId"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	Status         string `json:"status"`
	Memo           string `json:"memo,omitempty"`
	CounterpartyID string `json:"counterpartyId,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`
	CreatedAt      string `json:"createdAt"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:             tx.ID,
		AccountID:      tx.AccountID,
		Kind:           string(tx.Kind),
		Amount:         tx.Amount,
		Status:         string(tx.Status),
		Memo:           tx.Memo,
		CounterpartyID: tx.CounterpartyID,
		FailureReason:  tx.FailureReason,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
	if !tx.CompletedAt.IsZero() {
		resp.CompletedAt = tx.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.cfg.Store.ListTransactions(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.cfg.Store.GetTransaction(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *Handler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.cfg.Approvals.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type entry struct {
		TransactionID string `json:"transactionId"`
		AccountID     string `json:"accountId"`
		Amount        int64  `json:"amount"`
		QueuedAt      string `json:"queuedAt"`
	}
	out := make([]entry, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, entry{
			TransactionID: req.TransactionID,
			AccountID:     req.AccountID,
			Amount:        req.Amount,
			QueuedAt:      req.QueuedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": out})
}

func (h *Handler) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Approved bool `json:"approved"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.cfg.Service.ResolveApproval(r.Context(), chi.URLParam(r, "txID"), payload.Approved, operator(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactionId": res.Transaction.ID,
		"status":        string(res.Transaction.Status),
	})
}

func (h *Handler) handleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	state, err := h.cfg.Kill.Read(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawalsEnabled": state.WithdrawalsEnabled,
		"reason":             state.Reason,
		"updatedBy":          state.UpdatedBy,
		"updatedAt":          state.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) handlePutKillSwitch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WithdrawalsEnabled bool   `json:"withdrawalsEnabled"`
		Reason             string `json:"reason"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Reason == "" {
		h.writeError(w, r, ledger.E(ledger.ValidationError, "a reason is required"))
		return
	}

	var err error
	if payload.WithdrawalsEnabled {
		err = h.cfg.Kill.Enable(r.Context(), payload.Reason, operator(r))
	} else {
		err = h.cfg.Kill.Disable(r.Context(), payload.Reason, operator(r))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleGetKillSwitch(w, r)
}
