// Package storage defines the persistence interfaces the ledger pipeline is
// built on. Every balance-touching method is required to execute as one
// serializable unit against the backing store: the in-memory implementation
// holds a single mutex for the whole operation, the postgres implementation
// runs a serializable transaction with rows locked in deterministic order.
package storage

import (
	"context"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
)

// AccountStore persists member accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	SetAccountStatus(ctx context.Context, id string, status ledger.AccountStatus) error
}

// LedgerStore exposes the atomic ledger operations plus the read queries the
// safety checks run on. Reserve/complete/release implement the withdrawal
// state machine; ReserveAndCommitTransfer settles an internal transfer in one
// step.
type LedgerStore interface {
	// ReserveWithdrawal atomically re-reads the balance, subtracts in-flight
	// withdrawal reservations, and inserts the transaction row in status
	// pending (or pending_approval). The balance itself is not debited.
	// Replaying an existing transaction ID returns the stored row with
	// created=false.
	ReserveWithdrawal(ctx context.Context, tx ledger.Transaction) (out ledger.Transaction, created bool, err error)

	// MarkProcessing advances pending or pending_approval to processing.
	// Fails with a state error if the transaction is in any other status.
	MarkProcessing(ctx context.Context, txID string) (ledger.Transaction, error)

	// CompleteWithdrawal atomically debits the balance, stores the proof
	// token and marks the transaction completed. Only legal from processing;
	// a retried callback loses the conditional update and gets a state error
	// with the balance untouched.
	CompleteWithdrawal(ctx context.Context, txID, proofToken string) (ledger.Transaction, int64, error)

	// ReleaseWithdrawal marks a non-terminal withdrawal failed. No balance
	// change: reserve never debited it.
	ReleaseWithdrawal(ctx context.Context, txID, reason string) (ledger.Transaction, error)

	// ReserveAndCommitTransfer moves value between two accounts in one atomic
	// step: balance check on the sender, two completed internal rows, debit
	// and credit. Implementations must lock the two account rows in account
	// ID order. Replaying the sender transaction ID returns the stored rows.
	ReserveAndCommitTransfer(ctx context.Context, sender, receiver ledger.Transaction) (senderTx, receiverTx ledger.Transaction, receiverBalance int64, err error)

	// CreditDeposit atomically credits the balance and inserts a completed
	// deposit row. Idempotent on the transaction ID.
	CreditDeposit(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, int64, error)

	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error)

	// SumCompletedSigned returns the signed sum of an account's completed
	// transactions, the reconciliation baseline.
	SumCompletedSigned(ctx context.Context, accountID string) (int64, error)

	// SumCompletedWithdrawals sums completed withdrawal amounts since the
	// cutoff. An empty accountID sums across all accounts (system outflow).
	SumCompletedWithdrawals(ctx context.Context, accountID string, since time.Time) (int64, error)
}

// ApprovalStore persists the queue of withdrawals awaiting operator sign-off.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req ledger.ApprovalRequest) error
	GetApproval(ctx context.Context, txID string) (ledger.ApprovalRequest, error)
	ListApprovals(ctx context.Context) ([]ledger.ApprovalRequest, error)
	DeleteApproval(ctx context.Context, txID string) error
}

// AuditStore appends forensic events. Append failures must be tolerated by
// callers; they never abort the financial operation.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event ledger.AuditEvent) error
	ListAuditEvents(ctx context.Context, txID string) ([]ledger.AuditEvent, error)
}

// KillSwitchStore persists the global withdrawal switch. Read must hit the
// store every time; the switch can be flipped by a concurrent actor.
type KillSwitchStore interface {
	ReadKillSwitch(ctx context.Context) (ledger.KillSwitchState, error)
	WriteKillSwitch(ctx context.Context, enabled bool, reason, actor string) error
}
