// Package killswitch wraps the persisted global withdrawal switch. Reads
// always hit the store: the switch can be flipped at any moment by the
// threshold guard or an operator, so no state is cached across requests.
package killswitch

import (
	"context"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// ActorSystem marks flips performed automatically by the threshold guard.
const ActorSystem = "system"

// Switch reads and writes the global withdrawal switch.
type Switch struct {
	store storage.KillSwitchStore
	log   *logger.Logger
}

// New creates a Switch over the given store.
func New(store storage.KillSwitchStore, log *logger.Logger) *Switch {
	if log == nil {
		log = logger.NewDefault("killswitch")
	}
	return &Switch{store: store, log: log}
}

// Read returns the current state, fetched fresh from the store.
func (s *Switch) Read(ctx context.Context) (ledger.KillSwitchState, error) {
	state, err := s.store.ReadKillSwitch(ctx)
	if err != nil {
		return ledger.KillSwitchState{}, ledger.Wrap(ledger.StoreError, "read kill switch", err)
	}
	return state, nil
}

// Disable turns withdrawals off with a reason. Idempotent: flipping an
// already-disabled switch just refreshes the reason.
func (s *Switch) Disable(ctx context.Context, reason, actor string) error {
	if err := s.store.WriteKillSwitch(ctx, false, reason, actor); err != nil {
		return ledger.Wrap(ledger.StoreError, "disable withdrawals", err)
	}
	s.log.WithFields(map[string]interface{}{"reason": reason, "actor": actor}).Warn("withdrawals disabled")
	return nil
}

// Enable turns withdrawals back on.
func (s *Switch) Enable(ctx context.Context, reason, actor string) error {
	if err := s.store.WriteKillSwitch(ctx, true, reason, actor); err != nil {
		return ledger.Wrap(ledger.StoreError, "enable withdrawals", err)
	}
	s.log.WithFields(map[string]interface{}{"reason": reason, "actor": actor}).Info("withdrawals enabled")
	return nil
}
