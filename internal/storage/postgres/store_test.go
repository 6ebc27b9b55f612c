package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	}
}

func transactionRows(tx ledger.Transaction) *sqlmock.Rows {
	completed := sql.NullTime{}
	if !tx.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: tx.CompletedAt, Valid: true}
	}
	return sqlmock.NewRows([]string{
		"id", "account_id", "kind", "amount", "status", "payment_request",
		"proof_token", "memo", "counterparty_id", "failure_reason",
		"created_at", "updated_at", "completed_at",
	}).AddRow(tx.ID, tx.AccountID, string(tx.Kind), tx.Amount, string(tx.Status), tx.PaymentRequest,
		tx.ProofToken, tx.Memo, tx.CounterpartyID, tx.FailureReason, tx.CreatedAt, tx.UpdatedAt, completed)
}

func TestReserveWithdrawalInsufficientRollsBack(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id")).
		WithArgs("wd-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).AddRow(1000, "active"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0)")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(700))
	mock.ExpectRollback()

	_, _, err := store.ReserveWithdrawal(context.Background(), ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 400,
	})
	if !ledger.IsKind(err, ledger.InsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestReserveWithdrawalReplayReturnsStoredRow(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	existing := ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal,
		Amount: 400, Status: ledger.StatusCompleted,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id")).
		WithArgs("wd-1").
		WillReturnRows(transactionRows(existing))
	mock.ExpectCommit()

	tx, created, err := store.ReserveWithdrawal(context.Background(), ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal, Amount: 400,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatal("replay must not report a fresh row")
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("expected the stored status, got %s", tx.Status)
	}
}

func TestMarkProcessingConflictSurfacesCurrentStatus(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	existing := ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal,
		Amount: 400, Status: ledger.StatusCompleted,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id")).
		WithArgs("wd-1").
		WillReturnRows(transactionRows(existing))
	mock.ExpectRollback()

	_, err := store.MarkProcessing(context.Background(), "wd-1")
	if !ledger.IsKind(err, ledger.StateError) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestCompleteWithdrawalDebitsInOneTransaction(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	completedRow := ledger.Transaction{
		ID: "wd-1", AccountID: "alice", Kind: ledger.KindWithdrawal,
		Amount: 400, Status: ledger.StatusCompleted, ProofToken: "proof-abc",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(), CompletedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id")).
		WithArgs("wd-1").
		WillReturnRows(transactionRows(completedRow))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(600))
	mock.ExpectCommit()

	tx, balance, err := store.CompleteWithdrawal(context.Background(), "wd-1", "proof-abc")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tx.ProofToken != "proof-abc" || balance != 600 {
		t.Fatalf("unexpected result: %+v balance=%d", tx, balance)
	}
}

func TestReadKillSwitchMissingRowDefaultsEnabled(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT withdrawals_enabled")).
		WillReturnError(sql.ErrNoRows)

	state, err := store.ReadKillSwitch(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !state.WithdrawalsEnabled {
		t.Fatal("a missing seed row must read as enabled")
	}
}

func TestSumCompletedWithdrawals(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0)")).
		WithArgs("", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(24_900))

	total, err := store.SumCompletedWithdrawals(context.Background(), "", since)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 24_900 {
		t.Fatalf("expected 24900, got %d", total)
	}
}
