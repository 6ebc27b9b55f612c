package reconcile

import (
	"context"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/satsboard/ledger-service/internal/alert"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Sweeper periodically re-checks every account and raises one alert per newly
// drifted account. It repeats the alert only after the account has reconciled
// again in between, so a standing discrepancy does not page on every sweep.
type Sweeper struct {
	checker  *Checker
	alerts   *alert.Dispatcher
	log      *logger.Logger
	schedule string

	cron *cron.Cron

	mu      sync.Mutex
	flagged map[string]struct{}
}

// NewSweeper creates a Sweeper with a cron schedule such as "@every 1h".
func NewSweeper(checker *Checker, alerts *alert.Dispatcher, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("reconcile-sweep")
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Sweeper{
		checker:  checker,
		alerts:   alerts,
		log:      log,
		schedule: schedule,
		flagged:  make(map[string]struct{}),
	}
}

// Start registers the sweep with the cron runner and starts it.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep checks every account once. It is safe to call directly; the cron
// schedule just does so on a timer.
func (s *Sweeper) Sweep(ctx context.Context) {
	accounts, err := s.checker.accounts.ListAccounts(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep: list accounts")
		return
	}

	var drifted int
	for _, acct := range accounts {
		report, err := s.checker.Check(ctx, acct.ID)
		if err != nil {
			s.log.WithError(err).WithField("account", acct.ID).Warn("sweep: check failed")
			continue
		}
		if report.Reconciles {
			s.clearFlag(acct.ID)
			continue
		}

		drifted++
		if s.flag(acct.ID) && s.alerts != nil {
			s.alerts.Dispatch(alert.Event{
				Severity: alert.SeverityCritical,
				Code:     "reconciliation_drift",
				Message:  "scheduled sweep found account drift",
				Details: map[string]string{
					"account_id":  acct.ID,
					"stored":      strconv.FormatInt(report.Stored, 10),
					"calculated":  strconv.FormatInt(report.Calculated, 10),
					"discrepancy": strconv.FormatInt(report.Discrepancy, 10),
				},
			})
		}
	}

	if drifted > 0 {
		s.log.Warnf("sweep finished: %d of %d accounts do not reconcile", drifted, len(accounts))
	}
}

// flag marks an account as drifted and reports whether it was newly flagged.
func (s *Sweeper) flag(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flagged[accountID]; ok {
		return false
	}
	s.flagged[accountID] = struct{}{}
	return true
}

func (s *Sweeper) clearFlag(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flagged, accountID)
}
