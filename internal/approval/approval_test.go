package approval

import (
	"context"
	"testing"

	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage/memory"
)

func reservePendingApproval(t *testing.T, store *memory.Store, txID string, amount int64) ledger.Transaction {
	t.Helper()
	ctx := context.Background()

	if _, err := store.CreateAccount(ctx, ledger.Account{ID: "alice", Username: "alice"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, _, err := store.CreditDeposit(ctx, ledger.Transaction{
		ID: "seed", AccountID: "alice", Kind: ledger.KindDeposit, Amount: amount * 2,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID:        txID,
		AccountID: "alice",
		Kind:      ledger.KindWithdrawal,
		Amount:    amount,
		Status:    ledger.StatusPendingApproval,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return tx
}

func TestEnqueueAndList(t *testing.T) {
	store := memory.New()
	queue := NewQueue(store, store, nil, nil, nil)
	tx := reservePendingApproval(t, store, "wd-1", 40_000)

	if err := queue.Enqueue(context.Background(), tx, audit.RequestMeta{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reqs, err := queue.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reqs) != 1 || reqs[0].TransactionID != "wd-1" || reqs[0].Amount != 40_000 {
		t.Fatalf("unexpected queue contents: %+v", reqs)
	}
}

func TestEnqueueRejectsWrongStatus(t *testing.T) {
	store := memory.New()
	queue := NewQueue(store, store, nil, nil, nil)

	err := queue.Enqueue(context.Background(), ledger.Transaction{
		ID: "wd-1", Status: ledger.StatusPending,
	}, audit.RequestMeta{})
	if !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestResolveApproveAdvancesToProcessing(t *testing.T) {
	store := memory.New()
	queue := NewQueue(store, store, nil, nil, nil)
	tx := reservePendingApproval(t, store, "wd-1", 40_000)
	if err := queue.Enqueue(context.Background(), tx, audit.RequestMeta{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resolved, err := queue.Resolve(context.Background(), "wd-1", true, "operator-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != ledger.StatusProcessing {
		t.Fatalf("expected processing, got %s", resolved.Status)
	}

	if remaining, _ := store.ListApprovals(context.Background()); len(remaining) != 0 {
		t.Fatalf("queue entry must be removed, got %+v", remaining)
	}
}

func TestResolveRejectReleases(t *testing.T) {
	store := memory.New()
	queue := NewQueue(store, store, nil, nil, nil)
	tx := reservePendingApproval(t, store, "wd-1", 40_000)
	if err := queue.Enqueue(context.Background(), tx, audit.RequestMeta{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resolved, err := queue.Resolve(context.Background(), "wd-1", false, "operator-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != ledger.StatusFailed {
		t.Fatalf("expected failed, got %s", resolved.Status)
	}
	if resolved.FailureReason == "" {
		t.Fatal("expected a failure reason on the rejected row")
	}

	acct, _ := store.GetAccount(context.Background(), "alice")
	if acct.Balance != 80_000 {
		t.Fatalf("rejection must not touch the balance, got %d", acct.Balance)
	}
}

func TestResolveUnknownTransaction(t *testing.T) {
	store := memory.New()
	queue := NewQueue(store, store, nil, nil, nil)

	_, err := queue.Resolve(context.Background(), "missing", true, "operator-1")
	if !ledger.IsKind(err, ledger.NotFoundError) {
		t.Fatalf("expected not found, got %v", err)
	}
}
