// Package ledger holds the core domain model for the balance ledger: accounts,
// transactions and the withdrawal state machine that guards every
// balance-changing operation.
package ledger

import "time"

// AccountStatus enumerates the lifecycle states of a member account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Account is a member's custodial balance. Balance is integer sats and is
// mutated only by the atomic store operations; suspended accounts are rejected
// before any other check runs.
type Account struct {
	ID        string
	Username  string
	Balance   int64
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kind enumerates transaction kinds.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindInternal   Kind = "internal"
)

// Status enumerates transaction states. Transitions only move forward:
//
//	pending → [pending_approval →] processing → completed
//	                              ↘ failed
//
// Transfers settle in a single step: pending → completed. A terminal record is
// never mutated again; manual corrections are compensating records.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is one ledger movement. The ID is caller-generated and serves as
// the idempotency key: a replayed reserve with the same ID returns the
// original row instead of creating a duplicate.
//
// Amount conventions: deposits and withdrawals store the positive magnitude
// (the kind carries the direction); internal transfers store the signed value,
// negative on the sender row and positive on the receiver row.
type Transaction struct {
	ID             string
	AccountID      string
	Kind           Kind
	Amount         int64
	Status         Status
	PaymentRequest string
	ProofToken     string
	Memo           string
	CounterpartyID string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    time.Time
}

// SignedAmount returns the transaction's contribution to the account balance
// when completed: deposits add, withdrawals subtract, internal rows carry
// their stored sign.
func (t Transaction) SignedAmount() int64 {
	switch t.Kind {
	case KindWithdrawal:
		return -t.Amount
	default:
		return t.Amount
	}
}

// ApprovalRequest parks an oversized withdrawal until an operator resolves it.
// It exists only while the matching transaction is pending_approval.
type ApprovalRequest struct {
	TransactionID string
	AccountID     string
	Amount        int64
	QueuedAt      time.Time
}

// KillSwitchState is the persisted global withdrawal switch. It is read fresh
// on every mutation attempt because the threshold guard or an operator can
// flip it at any moment.
type KillSwitchState struct {
	WithdrawalsEnabled bool
	Reason             string
	UpdatedBy          string
	UpdatedAt          time.Time
}

// AuditEvent is one append-only forensic record in a transaction's trail.
// Writing it is best-effort: a failed write is logged operationally but never
// fails the financial operation.
type AuditEvent struct {
	ID            string
	TransactionID string
	Action        string
	Details       map[string]string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}
