// Package threshold guards aggregate outflow: it sums every account's
// completed withdrawals over a trailing window and, when a request would push
// the total past the global ceiling, denies it, alerts operators with full
// internal detail, and trips the kill switch so nothing further proceeds.
//
// The check is deliberately not globally serialized. Two racing requests can
// jointly overshoot the ceiling by at most one request's amount; the switch
// trips immediately afterwards, which is a better trade than serializing all
// withdrawals behind a single lock for an alerting feature.
package threshold

import (
	"context"
	"strconv"
	"time"

	"github.com/satsboard/ledger-service/internal/alert"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/killswitch"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// TripReason tags automatic kill-switch flips so operators can distinguish
// them from manual ones.
const TripReason = "automatic trip: system withdrawal threshold exceeded"

// Config holds the global ceiling in sats and the trailing window length.
type Config struct {
	Ceiling int64
	Window  time.Duration
}

// Evaluation reports the guard decision; the totals are internal-only and
// never surfaced to the requesting user.
type Evaluation struct {
	Allowed        bool
	CurrentTotal   int64
	ProjectedTotal int64
}

// Guard evaluates the system outflow ceiling.
type Guard struct {
	cfg    Config
	store  storage.LedgerStore
	kill   *killswitch.Switch
	alerts *alert.Dispatcher
	log    *logger.Logger
	now    func() time.Time
}

// NewGuard creates a Guard. A nil clock defaults to time.Now.
func NewGuard(cfg Config, store storage.LedgerStore, kill *killswitch.Switch, alerts *alert.Dispatcher, log *logger.Logger, now func() time.Time) *Guard {
	if log == nil {
		log = logger.NewDefault("threshold")
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Guard{cfg: cfg, store: store, kill: kill, alerts: alerts, log: log, now: now}
}

// Evaluate checks whether the amount fits under the global ceiling. On breach
// it trips the kill switch, dispatches a critical alert, and returns a denial
// whose message reveals nothing about the threshold.
func (g *Guard) Evaluate(ctx context.Context, amount int64) (Evaluation, error) {
	since := g.now().Add(-g.cfg.Window)
	current, err := g.store.SumCompletedWithdrawals(ctx, "", since)
	if err != nil {
		return Evaluation{}, ledger.Wrap(ledger.StoreError, "sum system outflow", err)
	}

	eval := Evaluation{
		CurrentTotal:   current,
		ProjectedTotal: current + amount,
	}
	if eval.ProjectedTotal <= g.cfg.Ceiling {
		eval.Allowed = true
		return eval, nil
	}

	g.log.WithFields(map[string]interface{}{
		"current":   current,
		"projected": eval.ProjectedTotal,
		"ceiling":   g.cfg.Ceiling,
	}).Error("system withdrawal threshold exceeded")

	// Trip before returning so no later request can pass the kill-switch
	// read. The flip is idempotent; racing breaches just rewrite the reason.
	if err := g.kill.Disable(ctx, TripReason, killswitch.ActorSystem); err != nil {
		g.log.WithError(err).Error("failed to trip kill switch")
	}

	if g.alerts != nil {
		g.alerts.Dispatch(alert.Event{
			Severity: alert.SeverityCritical,
			Code:     "system_threshold_tripped",
			Message:  "global withdrawal ceiling exceeded, withdrawals disabled",
			Details: map[string]string{
				"current_total":   strconv.FormatInt(current, 10),
				"projected_total": strconv.FormatInt(eval.ProjectedTotal, 10),
				"ceiling":         strconv.FormatInt(g.cfg.Ceiling, 10),
				"window":          g.cfg.Window.String(),
			},
		})
	}

	return eval, ledger.E(ledger.SystemThresholdError, "withdrawals are temporarily unavailable, please try again later")
}
