package memory

import (
	"context"
	"testing"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
)

func seedAccount(t *testing.T, store *Store, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateAccount(ctx, ledger.Account{ID: id, Username: id}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if balance > 0 {
		if _, _, err := store.CreditDeposit(ctx, ledger.Transaction{
			ID: "seed-" + id, AccountID: id, Kind: ledger.KindDeposit, Amount: balance,
		}); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
}

func TestReserveCountsInFlightWithdrawals(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 700,
	}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	// The balance is still 1000 but 700 is reserved.
	_, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-2", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 700,
	})
	if !ledger.IsKind(err, ledger.InsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// A smaller amount that fits beside the reservation passes.
	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-3", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 300,
	}); err != nil {
		t.Fatalf("reserve within available: %v", err)
	}
}

func TestReserveDoesNotDebit(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 700,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 1000 {
		t.Fatalf("reserve must not debit, balance %d", acct.Balance)
	}
}

func TestWithdrawalStateMachine(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 400,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Completion straight from pending is illegal.
	if _, _, err := store.CompleteWithdrawal(ctx, "wd-1", "proof"); !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error, got %v", err)
	}

	if _, err := store.MarkProcessing(ctx, "wd-1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	// Processing is not re-enterable.
	if _, err := store.MarkProcessing(ctx, "wd-1"); !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error on double processing, got %v", err)
	}

	tx, balance, err := store.CompleteWithdrawal(ctx, "wd-1", "proof-abc")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tx.Status != ledger.StatusCompleted || tx.ProofToken != "proof-abc" || balance != 600 {
		t.Fatalf("unexpected completion: %+v balance=%d", tx, balance)
	}

	// A retried settlement callback must not debit twice.
	if _, _, err := store.CompleteWithdrawal(ctx, "wd-1", "proof-abc"); !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error on double completion, got %v", err)
	}
	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 600 {
		t.Fatalf("double completion changed the balance: %d", acct.Balance)
	}

	// Terminal rows cannot be released either.
	if _, err := store.ReleaseWithdrawal(ctx, "wd-1", "oops"); !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error releasing a completed row, got %v", err)
	}
}

func TestReleaseFreesReservation(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 700,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.ReleaseWithdrawal(ctx, "wd-1", "payment failed"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The released amount is available again.
	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-2", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 900,
	}); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReserveIdempotency(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

	tx := ledger.Transaction{ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 400}
	_, created, err := store.ReserveWithdrawal(ctx, tx)
	if err != nil || !created {
		t.Fatalf("first reserve: created=%v err=%v", created, err)
	}
	replay, created, err := store.ReserveWithdrawal(ctx, tx)
	if err != nil || created {
		t.Fatalf("replay: created=%v err=%v", created, err)
	}
	if replay.ID != "wd-1" || replay.Status != ledger.StatusPending {
		t.Fatalf("replay returned %+v", replay)
	}
}

func TestTransferMovesBothBalances(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 200)
	seedAccount(t, store, "bob", 50)

	sender := ledger.Transaction{ID: "tr-1", AccountID: "alice", Kind: ledger.KindInternal, Amount: -100, CounterpartyID: "bob"}
	receiver := ledger.Transaction{ID: "tr-1:credit", AccountID: "bob", Kind: ledger.KindInternal, Amount: 100, CounterpartyID: "alice"}

	senderTx, receiverTx, recvBalance, err := store.ReserveAndCommitTransfer(ctx, sender, receiver)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if senderTx.Status != ledger.StatusCompleted || receiverTx.Status != ledger.StatusCompleted {
		t.Fatalf("rows must settle completed: %s/%s", senderTx.Status, receiverTx.Status)
	}
	if recvBalance != 150 {
		t.Fatalf("expected receiver balance 150, got %d", recvBalance)
	}

	alice, _ := store.GetAccount(ctx, "alice")
	bob, _ := store.GetAccount(ctx, "bob")
	if alice.Balance != 100 || bob.Balance != 150 {
		t.Fatalf("expected 100/150, got %d/%d", alice.Balance, bob.Balance)
	}

	// Replay settles to the same rows without moving money.
	_, _, recvBalance, err = store.ReserveAndCommitTransfer(ctx, sender, receiver)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if recvBalance != 150 {
		t.Fatalf("replay moved money, receiver balance %d", recvBalance)
	}
}

func TestTransferRespectsReservations(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)
	seedAccount(t, store, "bob", 0)

	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 700,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	sender := ledger.Transaction{ID: "tr-1", AccountID: "alice", Kind: ledger.KindInternal, Amount: -500, CounterpartyID: "bob"}
	receiver := ledger.Transaction{ID: "tr-1:credit", AccountID: "bob", Kind: ledger.KindInternal, Amount: 500, CounterpartyID: "alice"}
	_, _, _, err := store.ReserveAndCommitTransfer(ctx, sender, receiver)
	if !ledger.IsKind(err, ledger.InsufficientBalance) {
		t.Fatalf("transfer must respect in-flight reservations, got %v", err)
	}
}

func TestSumCompletedSigned(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)

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

	// A failed withdrawal must not count.
	if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-2", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 50,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.ReleaseWithdrawal(ctx, "wd-2", "failed"); err != nil {
		t.Fatalf("release: %v", err)
	}

	total, err := store.SumCompletedSigned(ctx, "alice")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 900 {
		t.Fatalf("expected signed sum 900, got %d", total)
	}
}

func TestSumCompletedWithdrawalsWindow(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 10_000)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	complete := func(id string, amount int64) {
		t.Helper()
		if _, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
			ID: id, AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: amount,
		}); err != nil {
			t.Fatalf("reserve %s: %v", id, err)
		}
		if _, err := store.MarkProcessing(ctx, id); err != nil {
			t.Fatalf("processing %s: %v", id, err)
		}
		if _, _, err := store.CompleteWithdrawal(ctx, id, "proof"); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}

	complete("wd-old", 500)
	clock = base.Add(3 * time.Hour)
	complete("wd-new", 300)

	total, err := store.SumCompletedWithdrawals(ctx, "alice", clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 300 {
		t.Fatalf("expected only the recent withdrawal, got %d", total)
	}

	global, err := store.SumCompletedWithdrawals(ctx, "", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("global sum: %v", err)
	}
	if global != 800 {
		t.Fatalf("expected global total 800, got %d", global)
	}
}

func TestSuspendedAccountCannotReserve(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedAccount(t, store, "alice", 1000)
	if err := store.SetAccountStatus(ctx, "alice", ledger.AccountSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	_, _, err := store.ReserveWithdrawal(ctx, ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 100,
	})
	if !ledger.IsKind(err, ledger.ValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
