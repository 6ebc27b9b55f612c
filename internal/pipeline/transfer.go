package pipeline

import (
	"context"
	"strconv"

	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/metrics"
)

// TransferRequest moves sats between two member accounts. Receiver may be an
// account ID or a username.
type TransferRequest struct {
	TransactionID string
	SenderID      string
	Receiver      string
	Amount        int64
	Memo          string
	Meta          audit.RequestMeta
}

// TransferResult reports the two settled rows. The sender row carries the
// negative amount, the receiver row the positive one.
type TransferResult struct {
	SenderTx           ledger.Transaction
	ReceiverTx         ledger.Transaction
	ReceiverNewBalance int64
}

// Transfer settles an internal transfer. It never leaves the custodial pool,
// so the kill switch, withdrawal limits and system threshold do not apply;
// admission control and reconciliation of both parties do. The debit and
// credit commit in one atomic step.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := validateTransfer(req); err != nil {
		return TransferResult{}, err
	}

	sender, err := s.cfg.Accounts.GetAccount(ctx, req.SenderID)
	if err != nil {
		return TransferResult{}, err
	}
	if sender.Status != ledger.AccountActive {
		return TransferResult{}, ledger.E(ledger.AuthError, "account is suspended")
	}

	receiver, err := s.resolveReceiver(ctx, req.Receiver)
	if err != nil {
		return TransferResult{}, err
	}
	if receiver.ID == sender.ID {
		return TransferResult{}, ledger.E(ledger.ValidationError, "cannot transfer to yourself")
	}
	if receiver.Status != ledger.AccountActive {
		return TransferResult{}, ledger.E(ledger.ValidationError, "recipient account is not active")
	}

	if err := s.admit(ctx, "transfer", sender.ID, s.cfg.TransferPolicies,
		"too many transfer attempts, please slow down"); err != nil {
		s.cfg.Metrics.ObserveTransfer(metrics.OutcomeDenied)
		return TransferResult{}, err
	}

	// Both sides must reconcile before either balance moves.
	if err := s.cfg.Reconciler.Gate(ctx, sender.ID); err != nil {
		s.cfg.Metrics.ObserveTransfer(metrics.OutcomeDenied)
		return TransferResult{}, err
	}
	if err := s.cfg.Reconciler.Gate(ctx, receiver.ID); err != nil {
		s.cfg.Metrics.ObserveTransfer(metrics.OutcomeDenied)
		return TransferResult{}, err
	}

	senderTx := ledger.Transaction{
		ID:             req.TransactionID,
		AccountID:      sender.ID,
		Kind:           ledger.KindInternal,
		Amount:         -req.Amount,
		Memo:           req.Memo,
		CounterpartyID: receiver.ID,
	}
	// The receiver row ID derives from the sender's so a replayed transfer
	// finds both stored rows.
	receiverTx := ledger.Transaction{
		ID:             req.TransactionID + ":credit",
		AccountID:      receiver.ID,
		Kind:           ledger.KindInternal,
		Amount:         req.Amount,
		Memo:           req.Memo,
		CounterpartyID: sender.ID,
	}

	senderTx, receiverTx, receiverBalance, err := s.cfg.Store.ReserveAndCommitTransfer(ctx, senderTx, receiverTx)
	if err != nil {
		s.cfg.Metrics.ObserveTransfer(metrics.OutcomeDenied)
		return TransferResult{}, err
	}

	s.cfg.Audit.Record(senderTx.ID, audit.ActionTransferred, map[string]string{
		"amount":       strconv.FormatInt(req.Amount, 10),
		"sender":       sender.ID,
		"receiver":     receiver.ID,
		"receiver_row": receiverTx.ID,
	}, req.Meta)
	s.cfg.Metrics.ObserveTransfer(metrics.OutcomeCompleted)

	s.log.WithFields(map[string]interface{}{
		"tx":       senderTx.ID,
		"sender":   sender.ID,
		"receiver": receiver.ID,
		"amount":   req.Amount,
	}).Info("transfer completed")

	return TransferResult{
		SenderTx:           senderTx,
		ReceiverTx:         receiverTx,
		ReceiverNewBalance: receiverBalance,
	}, nil
}

// DepositRequest credits a member account, typically from a settled task
// reward or an inbound Lightning payment.
type DepositRequest struct {
	TransactionID string
	AccountID     string
	Amount        int64
	Memo          string
	Meta          audit.RequestMeta
}

// Deposit atomically credits the balance with a completed deposit row.
// Idempotent on the transaction ID.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (ledger.Transaction, int64, error) {
	if req.TransactionID == "" {
		return ledger.Transaction{}, 0, ledger.E(ledger.ValidationError, "transactionId is required")
	}
	if req.Amount <= 0 {
		return ledger.Transaction{}, 0, ledger.E(ledger.ValidationError, "amount must be positive")
	}

	tx := ledger.Transaction{
		ID:        req.TransactionID,
		AccountID: req.AccountID,
		Kind:      ledger.KindDeposit,
		Amount:    req.Amount,
		Memo:      req.Memo,
	}
	tx, newBalance, err := s.cfg.Store.CreditDeposit(ctx, tx)
	if err != nil {
		return ledger.Transaction{}, 0, err
	}

	s.cfg.Audit.Record(tx.ID, audit.ActionDeposited, map[string]string{
		"amount":      strconv.FormatInt(tx.Amount, 10),
		"new_balance": strconv.FormatInt(newBalance, 10),
	}, req.Meta)
	s.cfg.Metrics.ObserveDeposit()
	return tx, newBalance, nil
}

func (s *Service) resolveReceiver(ctx context.Context, receiver string) (ledger.Account, error) {
	acct, err := s.cfg.Accounts.GetAccount(ctx, receiver)
	if err == nil {
		return acct, nil
	}
	if !ledger.IsKind(err, ledger.NotFoundError) {
		return ledger.Account{}, err
	}
	return s.cfg.Accounts.GetAccountByUsername(ctx, receiver)
}

func validateTransfer(req TransferRequest) error {
	if req.TransactionID == "" {
		return ledger.E(ledger.ValidationError, "transactionId is required")
	}
	if req.SenderID == "" {
		return ledger.E(ledger.AuthError, "account identity is required")
	}
	if req.Receiver == "" {
		return ledger.E(ledger.ValidationError, "receiver is required")
	}
	if req.Amount <= 0 {
		return ledger.E(ledger.ValidationError, "amount must be positive")
	}
	return nil
}
