package limits

import (
	"context"
	"testing"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage/memory"
)

func seedCompletedWithdrawal(t *testing.T, store *memory.Store, id string, amount int64) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: id, AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: amount,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, _, err := store.CompleteWithdrawal(ctx, id, "proof"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func newStoreWithBalance(t *testing.T, balance int64) *memory.Store {
	t.Helper()
	store := memory.New()
	if _, err := store.CreateAccount(context.Background(), ledger.Account{ID: "alice", Username: "alice"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, _, err := store.CreditDeposit(context.Background(), ledger.Transaction{
		ID: "seed", AccountID: "alice", Kind: ledger.KindDeposit, Amount: balance,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestPerTransactionCeiling(t *testing.T) {
	store := newStoreWithBalance(t, 1_000_000)
	engine := NewEngine(Config{MaxPerTransaction: 10_000, DailyCeiling: 100_000}, store, nil)

	if _, err := engine.Evaluate(context.Background(), "alice", 10_001); !ledger.IsKind(err, ledger.LimitExceededError) {
		t.Fatalf("expected limit denial, got %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), "alice", 10_000); err != nil {
		t.Fatalf("amount at the ceiling must pass, got %v", err)
	}
}

func TestDailyCeilingIsRolling(t *testing.T) {
	store := newStoreWithBalance(t, 1_000_000)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	engine := NewEngine(Config{MaxPerTransaction: 50_000, DailyCeiling: 60_000}, store, func() time.Time { return now })

	seedCompletedWithdrawal(t, store, "wd-1", 45_000)

	if _, err := engine.Evaluate(context.Background(), "alice", 20_000); !ledger.IsKind(err, ledger.LimitExceededError) {
		t.Fatalf("expected daily denial, got %v", err)
	}

	// 25 hours later the earlier withdrawal has rolled out of the window.
	now = now.Add(25 * time.Hour)
	if _, err := engine.Evaluate(context.Background(), "alice", 20_000); err != nil {
		t.Fatalf("expected pass after window rolled, got %v", err)
	}
}

func TestApprovalThresholdFlagsWithoutDenying(t *testing.T) {
	store := newStoreWithBalance(t, 1_000_000)
	engine := NewEngine(Config{MaxPerTransaction: 50_000, DailyCeiling: 100_000, ApprovalThreshold: 10_000}, store, nil)

	decision, err := engine.Evaluate(context.Background(), "alice", 20_000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Allowed || !decision.RequiresApproval {
		t.Fatalf("expected allowed+flagged, got %+v", decision)
	}

	decision, err = engine.Evaluate(context.Background(), "alice", 5_000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.RequiresApproval {
		t.Fatalf("small amount must not require approval: %+v", decision)
	}
}

func TestLowRemainingLimitWarns(t *testing.T) {
	store := newStoreWithBalance(t, 1_000_000)
	engine := NewEngine(Config{MaxPerTransaction: 100_000, DailyCeiling: 100_000}, store, nil)

	decision, err := engine.Evaluate(context.Background(), "alice", 90_000)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(decision.Warnings) == 0 {
		t.Fatal("expected a remaining-limit warning")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{MaxPerTransaction: 100, DailyCeiling: 1000, ApprovalThreshold: 50}, true},
		{"zero per-tx", Config{DailyCeiling: 1000}, false},
		{"zero daily", Config{MaxPerTransaction: 100}, false},
		{"negative approval", Config{MaxPerTransaction: 100, DailyCeiling: 1000, ApprovalThreshold: -1}, false},
		{"approval above per-tx", Config{MaxPerTransaction: 100, DailyCeiling: 1000, ApprovalThreshold: 200}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
