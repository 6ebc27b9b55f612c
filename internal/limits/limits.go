// Package limits enforces per-user withdrawal policy: a hard per-transaction
// ceiling, a rolling 24-hour ceiling over completed withdrawals, and a lower
// approval threshold that routes the request to manual review instead of
// denying it. Evaluation is a pure read over history plus the proposed amount.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
)

// Config holds the policy ceilings in sats. ApprovalThreshold of zero disables
// manual review; the ceilings must be positive.
type Config struct {
	MaxPerTransaction int64 `yaml:"max_per_transaction"`
	DailyCeiling      int64 `yaml:"daily_ceiling"`
	ApprovalThreshold int64 `yaml:"approval_threshold"`
}

// Validate rejects configurations that would let everything or nothing pass.
func (c Config) Validate() error {
	if c.MaxPerTransaction <= 0 {
		return fmt.Errorf("max_per_transaction must be positive")
	}
	if c.DailyCeiling <= 0 {
		return fmt.Errorf("daily_ceiling must be positive")
	}
	if c.ApprovalThreshold < 0 {
		return fmt.Errorf("approval_threshold must not be negative")
	}
	if c.ApprovalThreshold > c.MaxPerTransaction {
		return fmt.Errorf("approval_threshold must not exceed max_per_transaction")
	}
	return nil
}

// Decision is the evaluation outcome. A request requiring approval is still
// allowed; it is routed to the approval queue rather than denied.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
	Warnings         []string
}

// Engine evaluates the withdrawal policy for one account.
type Engine struct {
	cfg   Config
	store storage.LedgerStore
	now   func() time.Time
}

// NewEngine creates an Engine. A nil clock defaults to time.Now.
func NewEngine(cfg Config, store storage.LedgerStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, store: store, now: now}
}

// Evaluate applies the policy in order: per-transaction ceiling, rolling daily
// ceiling, approval threshold. Limit violations are user-visible and specific.
func (e *Engine) Evaluate(ctx context.Context, accountID string, amount int64) (Decision, error) {
	if amount <= 0 {
		return Decision{}, ledger.E(ledger.ValidationError, "amount must be positive")
	}
	if amount > e.cfg.MaxPerTransaction {
		return Decision{}, ledger.E(ledger.LimitExceededError,
			fmt.Sprintf("amount exceeds the per-transaction limit of %d sats", e.cfg.MaxPerTransaction))
	}

	since := e.now().Add(-24 * time.Hour)
	dailyTotal, err := e.store.SumCompletedWithdrawals(ctx, accountID, since)
	if err != nil {
		return Decision{}, ledger.Wrap(ledger.StoreError, "sum daily withdrawals", err)
	}
	if dailyTotal+amount > e.cfg.DailyCeiling {
		return Decision{}, ledger.E(ledger.LimitExceededError,
			fmt.Sprintf("amount exceeds the daily withdrawal limit of %d sats", e.cfg.DailyCeiling))
	}

	decision := Decision{Allowed: true}
	if e.cfg.ApprovalThreshold > 0 && amount > e.cfg.ApprovalThreshold {
		decision.RequiresApproval = true
	}
	if remaining := e.cfg.DailyCeiling - dailyTotal - amount; remaining < e.cfg.DailyCeiling/5 {
		decision.Warnings = append(decision.Warnings,
			fmt.Sprintf("only %d sats of today's withdrawal limit remain", remaining))
	}
	return decision, nil
}
