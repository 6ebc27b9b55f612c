// Package approval manages withdrawals parked for operator review. A request
// over the review threshold is reserved in pending_approval and queued here;
// an operator either approves it, which advances it to processing for payment,
// or rejects it, which releases the reservation. The requesting user only ever
// sees a generic in-progress status.
package approval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Queue is the operator-facing review queue.
type Queue struct {
	approvals storage.ApprovalStore
	store     storage.LedgerStore
	audit     *audit.Log
	log       *logger.Logger
	now       func() time.Time
}

// NewQueue creates a Queue. A nil clock defaults to time.Now.
func NewQueue(approvals storage.ApprovalStore, store storage.LedgerStore, auditLog *audit.Log, log *logger.Logger, now func() time.Time) *Queue {
	if log == nil {
		log = logger.NewDefault("approval")
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{approvals: approvals, store: store, audit: auditLog, log: log, now: now}
}

// Enqueue parks a reserved pending_approval withdrawal for review.
func (q *Queue) Enqueue(ctx context.Context, tx ledger.Transaction, meta audit.RequestMeta) error {
	if tx.Status != ledger.StatusPendingApproval {
		return ledger.E(ledger.StateError,
			fmt.Sprintf("transaction %s is %s, not pending_approval", tx.ID, tx.Status))
	}

	req := ledger.ApprovalRequest{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		QueuedAt:      q.now().UTC(),
	}
	if err := q.approvals.CreateApproval(ctx, req); err != nil {
		return ledger.Wrap(ledger.StoreError, "queue approval", err)
	}

	q.log.WithFields(map[string]interface{}{
		"tx":      tx.ID,
		"account": tx.AccountID,
		"amount":  tx.Amount,
	}).Info("withdrawal queued for operator review")
	q.audit.Record(tx.ID, audit.ActionApprovalQueued, map[string]string{
		"amount": strconv.FormatInt(tx.Amount, 10),
	}, meta)
	return nil
}

// List returns every request awaiting review.
func (q *Queue) List(ctx context.Context) ([]ledger.ApprovalRequest, error) {
	reqs, err := q.approvals.ListApprovals(ctx)
	if err != nil {
		return nil, ledger.Wrap(ledger.StoreError, "list approvals", err)
	}
	return reqs, nil
}

// Resolve records the operator's decision. Approval advances the withdrawal to
// processing and returns it for payment execution; rejection releases the
// reservation. Either way the queue entry is removed.
func (q *Queue) Resolve(ctx context.Context, txID string, approved bool, operator string) (ledger.Transaction, error) {
	if _, err := q.approvals.GetApproval(ctx, txID); err != nil {
		return ledger.Transaction{}, err
	}

	var (
		tx  ledger.Transaction
		err error
	)
	if approved {
		tx, err = q.store.MarkProcessing(ctx, txID)
	} else {
		tx, err = q.store.ReleaseWithdrawal(ctx, txID, "rejected by operator")
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	if err := q.approvals.DeleteApproval(ctx, txID); err != nil {
		// The transaction already moved on; a stale queue entry is an
		// operator-visible nuisance, not a ledger fault.
		q.log.WithError(err).WithField("tx", txID).Warn("failed to remove resolved approval")
	}

	q.log.WithFields(map[string]interface{}{
		"tx":       txID,
		"approved": approved,
		"operator": operator,
	}).Info("approval resolved")
	q.audit.Record(txID, audit.ActionApprovalResolved, map[string]string{
		"approved": strconv.FormatBool(approved),
		"operator": operator,
	}, audit.RequestMeta{})
	return tx, nil
}
