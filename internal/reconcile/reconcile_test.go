package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satsboard/ledger-service/internal/alert"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage/memory"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *captureNotifier) Notify(_ context.Context, event alert.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func seedLedger(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.CreateAccount(ctx, ledger.Account{ID: "alice", Username: "alice"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, _, err := store.CreditDeposit(ctx, ledger.Transaction{
		ID: "dep-1", AccountID: "alice", Kind: ledger.KindDeposit, Amount: 1000,
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 100,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "wd-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, _, err := store.CompleteWithdrawal(ctx, "wd-1", "proof"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestCheckHealthyAccount(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	checker := NewChecker(store, store, nil, nil)

	report, err := checker.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.Reconciles {
		t.Fatalf("expected reconciled account, got %+v", report)
	}
	if report.Stored != 900 || report.Calculated != 900 {
		t.Fatalf("expected 900/900, got %+v", report)
	}
}

func TestCheckDetectsDrift(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	store.SetBalance("alice", 1000)
	checker := NewChecker(store, store, nil, nil)

	report, err := checker.Check(context.Background(), "alice")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Reconciles {
		t.Fatal("expected drift to be detected")
	}
	if report.Discrepancy != 100 {
		t.Fatalf("expected discrepancy 100, got %d", report.Discrepancy)
	}
}

func TestGateRefusesWithGenericMessage(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	store.SetBalance("alice", 1000)

	notifier := &captureNotifier{}
	alerts := alert.NewDispatcher(nil, notifier)
	alerts.Start()
	checker := NewChecker(store, store, alerts, nil)

	err := checker.Gate(context.Background(), "alice")
	if !ledger.IsKind(err, ledger.ReconciliationError) {
		t.Fatalf("expected reconciliation denial, got %v", err)
	}
	for _, internal := range []string{"900", "1000", "100"} {
		if strings.Contains(err.Error(), internal) {
			t.Fatalf("denial leaks %q", internal)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = alerts.Stop(ctx)
	if notifier.count() != 1 {
		t.Fatalf("expected one alert, got %d", notifier.count())
	}
}

func TestGatePassesHealthyAccount(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	checker := NewChecker(store, store, nil, nil)

	if err := checker.Gate(context.Background(), "alice"); err != nil {
		t.Fatalf("gate should pass: %v", err)
	}
}

func TestSweepAlertsOncePerDriftedAccount(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	if _, err := store.CreateAccount(context.Background(), ledger.Account{ID: "bob", Username: "bob"}); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	store.SetBalance("alice", 1000)

	notifier := &captureNotifier{}
	alerts := alert.NewDispatcher(nil, notifier)
	alerts.Start()
	checker := NewChecker(store, store, alerts, nil)
	sweeper := NewSweeper(checker, alerts, "", nil)

	sweeper.Sweep(context.Background())
	sweeper.Sweep(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = alerts.Stop(ctx)
	if notifier.count() != 1 {
		t.Fatalf("standing drift must alert once, got %d alerts", notifier.count())
	}
}

func TestSweepReAlertsAfterRecovery(t *testing.T) {
	store := memory.New()
	seedLedger(t, store)
	store.SetBalance("alice", 1000)

	notifier := &captureNotifier{}
	alerts := alert.NewDispatcher(nil, notifier)
	alerts.Start()
	checker := NewChecker(store, store, alerts, nil)
	sweeper := NewSweeper(checker, alerts, "", nil)

	sweeper.Sweep(context.Background())

	// Support repairs the balance, then it drifts again.
	store.SetBalance("alice", 900)
	sweeper.Sweep(context.Background())
	store.SetBalance("alice", 1100)
	sweeper.Sweep(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = alerts.Stop(ctx)
	if notifier.count() != 2 {
		t.Fatalf("expected two alerts across drift-recover-drift, got %d", notifier.count())
	}
}
