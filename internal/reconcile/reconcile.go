// Package reconcile detects drift between an account's stored balance and the
// balance recomputed from its completed transaction history. The check runs
// before any reservation: an account whose stored balance already disagrees
// with its history must not be trusted to authorize further movement. The
// checker never corrects drift itself; support reconciles manually.
package reconcile

import (
	"context"
	"strconv"

	"github.com/satsboard/ledger-service/internal/alert"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Report compares the stored balance with the recomputed one.
type Report struct {
	AccountID   string `json:"accountId"`
	Reconciles  bool   `json:"reconciles"`
	Stored      int64  `json:"stored"`
	Calculated  int64  `json:"calculated"`
	Discrepancy int64  `json:"discrepancy"`
}

// Checker recomputes balances from history.
type Checker struct {
	accounts storage.AccountStore
	store    storage.LedgerStore
	alerts   *alert.Dispatcher
	log      *logger.Logger
}

// NewChecker creates a Checker. The dispatcher may be nil in tests that only
// read reports.
func NewChecker(accounts storage.AccountStore, store storage.LedgerStore, alerts *alert.Dispatcher, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Checker{accounts: accounts, store: store, alerts: alerts, log: log}
}

// Check recomputes the account's balance from completed history. Sign rules:
// deposits add, withdrawals subtract, internal rows carry their stored sign.
func (c *Checker) Check(ctx context.Context, accountID string) (Report, error) {
	acct, err := c.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Report{}, err
	}

	calculated, err := c.store.SumCompletedSigned(ctx, accountID)
	if err != nil {
		return Report{}, err
	}

	return Report{
		AccountID:   accountID,
		Reconciles:  acct.Balance == calculated,
		Stored:      acct.Balance,
		Calculated:  calculated,
		Discrepancy: acct.Balance - calculated,
	}, nil
}

// Gate refuses the mutation when the account does not reconcile. The caller
// gets a generic message with no numbers; the alert carries the internals.
func (c *Checker) Gate(ctx context.Context, accountID string) error {
	report, err := c.Check(ctx, accountID)
	if err != nil {
		return err
	}
	if report.Reconciles {
		return nil
	}

	c.log.WithFields(map[string]interface{}{
		"account":     accountID,
		"stored":      report.Stored,
		"calculated":  report.Calculated,
		"discrepancy": report.Discrepancy,
	}).Error("balance does not reconcile with history")

	if c.alerts != nil {
		c.alerts.Dispatch(alert.Event{
			Severity: alert.SeverityCritical,
			Code:     "reconciliation_mismatch",
			Message:  "account balance does not reconcile with transaction history",
			Details: map[string]string{
				"account_id":  accountID,
				"stored":      strconv.FormatInt(report.Stored, 10),
				"calculated":  strconv.FormatInt(report.Calculated, 10),
				"discrepancy": strconv.FormatInt(report.Discrepancy, 10),
			},
		})
	}

	return ledger.E(ledger.ReconciliationError, "balance verification issue, please contact support")
}
