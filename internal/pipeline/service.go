// Package pipeline runs every balance-changing request through the full
// safety sequence: admission control, kill switch, reconciliation, policy
// limits, the system threshold guard and finally the atomic
// reserve/commit/release state machine. It is the only caller of the payment
// executor; nothing else in the service moves money.
package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/satsboard/ledger-service/internal/approval"
	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/killswitch"
	"github.com/satsboard/ledger-service/internal/limits"
	"github.com/satsboard/ledger-service/internal/metrics"
	"github.com/satsboard/ledger-service/internal/payment"
	"github.com/satsboard/ledger-service/internal/ratelimit"
	"github.com/satsboard/ledger-service/internal/reconcile"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/internal/threshold"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Default admission policies, keyed per account and action.
var (
	defaultWithdrawPolicies = []ratelimit.Policy{
		{MaxRequests: 5, Window: time.Minute},
		{MaxRequests: 20, Window: time.Hour},
	}
	defaultTransferPolicies = []ratelimit.Policy{
		{MaxRequests: 10, Window: time.Minute},
		{MaxRequests: 60, Window: time.Hour},
	}
)

// Config wires the service's collaborators. Metrics may be nil.
type Config struct {
	Accounts storage.AccountStore
	Store    storage.LedgerStore

	Limiter    *ratelimit.Limiter
	Kill       *killswitch.Switch
	Reconciler *reconcile.Checker
	Limits     *limits.Engine
	Guard      *threshold.Guard
	Approvals  *approval.Queue
	Payments   payment.Executor

	Audit   *audit.Log
	Metrics *metrics.Metrics
	Log     *logger.Logger

	WithdrawPolicies []ratelimit.Policy
	TransferPolicies []ratelimit.Policy
}

// Service orchestrates the safety pipeline.
type Service struct {
	cfg Config
	log *logger.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("pipeline")
	}
	if len(cfg.WithdrawPolicies) == 0 {
		cfg.WithdrawPolicies = defaultWithdrawPolicies
	}
	if len(cfg.TransferPolicies) == 0 {
		cfg.TransferPolicies = defaultTransferPolicies
	}
	return &Service{cfg: cfg, log: cfg.Log}
}

// WithdrawRequest is one withdrawal attempt. TransactionID is the
// caller-generated idempotency key.
type WithdrawRequest struct {
	TransactionID  string
	AccountID      string
	Amount         int64
	PaymentRequest string
	Meta           audit.RequestMeta
}

// WithdrawResult reports the outcome. NewBalance is set only when the
// withdrawal completed in this call.
type WithdrawResult struct {
	Transaction ledger.Transaction
	NewBalance  int64
	Warnings    []string
}

// Withdraw runs one withdrawal through the pipeline. Checks run in a fixed
// order so the cheapest guards reject first and the atomic reserve happens
// only after every policy has passed. A replayed transaction ID short-circuits
// to the stored row without re-running the payment.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	if err := validateWithdraw(req); err != nil {
		return WithdrawResult{}, err
	}

	acct, err := s.cfg.Accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return WithdrawResult{}, err
	}
	if acct.Status != ledger.AccountActive {
		return WithdrawResult{}, ledger.E(ledger.AuthError, "account is suspended")
	}

	if err := s.admit(ctx, "withdraw", acct.ID, s.cfg.WithdrawPolicies,
		"too many withdrawal attempts, please slow down"); err != nil {
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, err
	}

	// The switch is read fresh on every attempt; the threshold guard or an
	// operator may have flipped it since the last request.
	state, err := s.cfg.Kill.Read(ctx)
	if err != nil {
		return WithdrawResult{}, err
	}
	if !state.WithdrawalsEnabled {
		s.log.WithFields(map[string]interface{}{
			"account": acct.ID,
			"reason":  state.Reason,
		}).Warn("withdrawal refused: kill switch engaged")
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, ledger.E(ledger.SystemThresholdError,
			"withdrawals are temporarily unavailable, please try again later")
	}

	if err := s.cfg.Reconciler.Gate(ctx, acct.ID); err != nil {
		if ledger.IsKind(err, ledger.ReconciliationError) {
			s.cfg.Metrics.ObserveReconcileRefusal()
		}
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, err
	}

	decision, err := s.cfg.Limits.Evaluate(ctx, acct.ID, req.Amount)
	if err != nil {
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, err
	}

	if _, err := s.cfg.Guard.Evaluate(ctx, req.Amount); err != nil {
		if ledger.IsKind(err, ledger.SystemThresholdError) {
			s.cfg.Metrics.ObserveThresholdTrip()
		}
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, err
	}

	reserve := ledger.Transaction{
		ID:             req.TransactionID,
		AccountID:      acct.ID,
		Kind:           ledger.KindWithdrawal,
		Amount:         req.Amount,
		PaymentRequest: req.PaymentRequest,
	}
	if decision.RequiresApproval {
		reserve.Status = ledger.StatusPendingApproval
	}

	tx, created, err := s.cfg.Store.ReserveWithdrawal(ctx, reserve)
	if err != nil {
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeDenied)
		return WithdrawResult{}, err
	}
	if !created {
		// Idempotent replay: report the stored row, touch nothing.
		return WithdrawResult{Transaction: tx}, nil
	}

	s.cfg.Audit.Record(tx.ID, audit.ActionInitiated, map[string]string{
		"amount":  strconv.FormatInt(tx.Amount, 10),
		"account": tx.AccountID,
	}, req.Meta)

	if tx.Status == ledger.StatusPendingApproval {
		if err := s.cfg.Approvals.Enqueue(ctx, tx, req.Meta); err != nil {
			return WithdrawResult{}, err
		}
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeQueued)
		return WithdrawResult{Transaction: tx, Warnings: decision.Warnings}, nil
	}

	result, err := s.settle(ctx, tx, req.Meta)
	if err != nil {
		return WithdrawResult{}, err
	}
	result.Warnings = decision.Warnings
	return result, nil
}

// ResolveApproval records an operator decision on a queued withdrawal. An
// approved withdrawal is paid out immediately; a rejected one releases its
// reservation.
func (s *Service) ResolveApproval(ctx context.Context, txID string, approved bool, operator string) (WithdrawResult, error) {
	tx, err := s.cfg.Approvals.Resolve(ctx, txID, approved, operator)
	if err != nil {
		return WithdrawResult{}, err
	}

	if !approved {
		s.cfg.Audit.Record(tx.ID, audit.ActionFailed, map[string]string{
			"reason": tx.FailureReason,
		}, audit.RequestMeta{})
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeFailed)
		return WithdrawResult{Transaction: tx}, nil
	}

	return s.pay(ctx, tx, audit.RequestMeta{})
}

// settle advances a freshly reserved withdrawal to processing and executes
// the payment.
func (s *Service) settle(ctx context.Context, tx ledger.Transaction, meta audit.RequestMeta) (WithdrawResult, error) {
	tx, err := s.cfg.Store.MarkProcessing(ctx, tx.ID)
	if err != nil {
		return WithdrawResult{}, err
	}
	s.cfg.Audit.Record(tx.ID, audit.ActionProcessing, nil, meta)
	return s.pay(ctx, tx, meta)
}

// pay executes the Lightning payment for a processing withdrawal and settles
// the reservation either way: commit with the proof token on success, release
// with the failure reason otherwise.
func (s *Service) pay(ctx context.Context, tx ledger.Transaction, meta audit.RequestMeta) (WithdrawResult, error) {
	result, payErr := s.cfg.Payments.Pay(ctx, tx.PaymentRequest, tx.Amount)
	if payErr != nil {
		s.log.WithError(payErr).WithField("tx", tx.ID).Warn("payment failed, releasing reservation")

		released, err := s.cfg.Store.ReleaseWithdrawal(ctx, tx.ID, payErr.Error())
		if err != nil {
			// The reservation is stuck in processing; operators recover it
			// from the audit trail.
			s.log.WithError(err).WithField("tx", tx.ID).Error("failed to release reservation after payment failure")
			return WithdrawResult{}, err
		}
		s.cfg.Audit.Record(tx.ID, audit.ActionFailed, map[string]string{
			"reason": released.FailureReason,
		}, meta)
		s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeFailed)
		return WithdrawResult{}, payErr
	}

	completed, newBalance, err := s.cfg.Store.CompleteWithdrawal(ctx, tx.ID, result.ProofToken)
	if err != nil {
		return WithdrawResult{}, err
	}
	s.cfg.Audit.Record(completed.ID, audit.ActionCompleted, map[string]string{
		"proof":       completed.ProofToken,
		"new_balance": strconv.FormatInt(newBalance, 10),
	}, meta)
	s.cfg.Metrics.ObserveWithdrawal(metrics.OutcomeCompleted)

	s.log.WithFields(map[string]interface{}{
		"tx":      completed.ID,
		"account": completed.AccountID,
		"amount":  completed.Amount,
	}).Info("withdrawal completed")
	return WithdrawResult{Transaction: completed, NewBalance: newBalance}, nil
}

// admit checks the per-account fixed-window policies for one action.
func (s *Service) admit(ctx context.Context, action, accountID string, policies []ratelimit.Policy, message string) error {
	res, err := s.cfg.Limiter.Allow(ctx, action+":"+accountID, policies...)
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "admission check", err)
	}
	if res.Allowed {
		return nil
	}

	s.log.WithFields(map[string]interface{}{
		"account": accountID,
		"action":  action,
		"count":   res.Count,
	}).Warn("request rate limited")
	s.cfg.Metrics.ObserveRateLimited(action)
	return &ledger.Error{
		Kind:       ledger.RateLimitError,
		Message:    message,
		RetryAfter: res.RetryAfter,
	}
}

func validateWithdraw(req WithdrawRequest) error {
	if req.TransactionID == "" {
		return ledger.E(ledger.ValidationError, "transactionId is required")
	}
	if req.AccountID == "" {
		return ledger.E(ledger.AuthError, "account identity is required")
	}
	if req.Amount <= 0 {
		return ledger.E(ledger.ValidationError, "amount must be positive")
	}
	if req.PaymentRequest == "" {
		return ledger.E(ledger.ValidationError, "paymentRequest is required")
	}
	return nil
}
