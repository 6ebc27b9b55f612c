// Package postgres implements the storage interfaces against PostgreSQL.
// Balance-touching operations run inside serializable transactions with the
// account rows locked via SELECT ... FOR UPDATE; transfers lock the two rows
// in account ID order so concurrent opposite-direction transfers cannot
// deadlock.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ApprovalStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.KillSwitchStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) withSerializable(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "begin transaction", err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Wrap(ledger.StoreError, "commit transaction", err)
	}
	return nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	if acct.Status == "" {
		acct.Status = ledger.AccountActive
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID, acct.Username, acct.Balance, acct.Status, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ledger.Account{}, ledger.E(ledger.ValidationError, "account or username already exists")
		}
		return ledger.Account{}, ledger.Wrap(ledger.StoreError, "create account", err)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, username, balance, status, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id))
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (ledger.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, username, balance, status, created_at, updated_at
		FROM accounts
		WHERE lower(username) = lower($1)
	`, username))
}

func (s *Store) scanAccount(row *sql.Row) (ledger.Account, error) {
	var acct ledger.Account
	err := row.Scan(&acct.ID, &acct.Username, &acct.Balance, &acct.Status, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.E(ledger.NotFoundError, "account not found")
	}
	if err != nil {
		return ledger.Account{}, ledger.Wrap(ledger.StoreError, "scan account", err)
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, balance, status, created_at, updated_at
		FROM accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, ledger.Wrap(ledger.StoreError, "list accounts", err)
	}
	defer rows.Close()

	var result []ledger.Account
	for rows.Next() {
		var acct ledger.Account
		if err := rows.Scan(&acct.ID, &acct.Username, &acct.Balance, &acct.Status, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, ledger.Wrap(ledger.StoreError, "scan account", err)
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status ledger.AccountStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "set account status", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.E(ledger.NotFoundError, "account not found")
	}
	return nil
}

// --- LedgerStore ------------------------------------------------------------

const inFlightWithdrawalsQuery = `
	SELECT COALESCE(SUM(amount), 0)
	FROM transactions
	WHERE account_id = $1
	  AND kind = 'withdrawal'
	  AND status IN ('pending', 'pending_approval', 'processing')`

func (s *Store) ReserveWithdrawal(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, bool, error) {
	var (
		out     ledger.Transaction
		created bool
	)
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		existing, err := getTransactionTx(ctx, sqlTx, tx.ID)
		if err == nil {
			out = existing
			created = false
			return nil
		}
		if !ledger.IsKind(err, ledger.NotFoundError) {
			return err
		}

		var (
			balance int64
			status  ledger.AccountStatus
		)
		row := sqlTx.QueryRowContext(ctx, `
			SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE
		`, tx.AccountID)
		if err := row.Scan(&balance, &status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.E(ledger.NotFoundError, "account not found")
			}
			return ledger.Wrap(ledger.StoreError, "lock account", err)
		}
		if status != ledger.AccountActive {
			return ledger.E(ledger.ValidationError, "account is not active")
		}

		var inFlight int64
		if err := sqlTx.QueryRowContext(ctx, inFlightWithdrawalsQuery, tx.AccountID).Scan(&inFlight); err != nil {
			return ledger.Wrap(ledger.StoreError, "sum in-flight withdrawals", err)
		}
		if tx.Amount > balance-inFlight {
			return ledger.E(ledger.InsufficientBalance, "insufficient balance")
		}

		if tx.Status != ledger.StatusPendingApproval {
			tx.Status = ledger.StatusPending
		}
		now := time.Now().UTC()
		tx.CreatedAt = now
		tx.UpdatedAt = now
		if err := insertTransactionTx(ctx, sqlTx, tx); err != nil {
			return err
		}
		out = tx
		created = true
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return out, created, nil
}

func (s *Store) MarkProcessing(ctx context.Context, txID string) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		result, err := sqlTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = 'processing', updated_at = $2
			WHERE id = $1 AND status IN ('pending', 'pending_approval')
		`, txID, time.Now().UTC())
		if err != nil {
			return ledger.Wrap(ledger.StoreError, "mark processing", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return s.stateErrorFor(ctx, sqlTx, txID, "cannot start processing")
		}
		out, err = getTransactionTx(ctx, sqlTx, txID)
		return err
	})
	return out, err
}

func (s *Store) CompleteWithdrawal(ctx context.Context, txID, proofToken string) (ledger.Transaction, int64, error) {
	var (
		out        ledger.Transaction
		newBalance int64
	)
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		now := time.Now().UTC()
		// Conditional update guards against double-completion from retried
		// settlement callbacks: only the first caller sees a row flip.
		result, err := sqlTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = 'completed', proof_token = $2, updated_at = $3, completed_at = $3
			WHERE id = $1 AND status = 'processing'
		`, txID, proofToken, now)
		if err != nil {
			return ledger.Wrap(ledger.StoreError, "complete withdrawal", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return s.stateErrorFor(ctx, sqlTx, txID, "cannot complete")
		}

		out, err = getTransactionTx(ctx, sqlTx, txID)
		if err != nil {
			return err
		}

		row := sqlTx.QueryRowContext(ctx, `
			UPDATE accounts
			SET balance = balance - $2, updated_at = $3
			WHERE id = $1
			RETURNING balance
		`, out.AccountID, out.Amount, now)
		if err := row.Scan(&newBalance); err != nil {
			return ledger.Wrap(ledger.StoreError, "debit balance", err)
		}
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, 0, err
	}
	return out, newBalance, nil
}

func (s *Store) ReleaseWithdrawal(ctx context.Context, txID, reason string) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		result, err := sqlTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = 'failed', failure_reason = $2, updated_at = $3
			WHERE id = $1 AND status IN ('pending', 'pending_approval', 'processing')
		`, txID, reason, time.Now().UTC())
		if err != nil {
			return ledger.Wrap(ledger.StoreError, "release withdrawal", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return s.stateErrorFor(ctx, sqlTx, txID, "cannot release")
		}
		out, err = getTransactionTx(ctx, sqlTx, txID)
		return err
	})
	return out, err
}

func (s *Store) ReserveAndCommitTransfer(ctx context.Context, sender, receiver ledger.Transaction) (ledger.Transaction, ledger.Transaction, int64, error) {
	var (
		senderOut   ledger.Transaction
		receiverOut ledger.Transaction
		recvBalance int64
	)
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		existing, err := getTransactionTx(ctx, sqlTx, sender.ID)
		if err == nil {
			counterpart, cerr := getTransactionTx(ctx, sqlTx, receiver.ID)
			if cerr != nil {
				return ledger.E(ledger.StateError, "transfer replay with missing counterpart row")
			}
			row := sqlTx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, receiver.AccountID)
			if err := row.Scan(&recvBalance); err != nil {
				return ledger.Wrap(ledger.StoreError, "read receiver balance", err)
			}
			senderOut, receiverOut = existing, counterpart
			return nil
		}
		if !ledger.IsKind(err, ledger.NotFoundError) {
			return err
		}

		// Lock both rows in id order so opposite-direction transfers agree on
		// lock acquisition order.
		first, second := sender.AccountID, receiver.AccountID
		if second < first {
			first, second = second, first
		}
		balances := make(map[string]int64, 2)
		for _, id := range []string{first, second} {
			var (
				balance int64
				status  ledger.AccountStatus
			)
			row := sqlTx.QueryRowContext(ctx, `
				SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE
			`, id)
			if err := row.Scan(&balance, &status); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ledger.E(ledger.NotFoundError, "account not found")
				}
				return ledger.Wrap(ledger.StoreError, "lock account", err)
			}
			if status != ledger.AccountActive {
				return ledger.E(ledger.ValidationError, "account is not active")
			}
			balances[id] = balance
		}

		amount := receiver.Amount
		var inFlight int64
		if err := sqlTx.QueryRowContext(ctx, inFlightWithdrawalsQuery, sender.AccountID).Scan(&inFlight); err != nil {
			return ledger.Wrap(ledger.StoreError, "sum in-flight withdrawals", err)
		}
		if amount > balances[sender.AccountID]-inFlight {
			return ledger.E(ledger.InsufficientBalance, "insufficient balance")
		}

		now := time.Now().UTC()
		for _, pair := range []struct {
			accountID string
			delta     int64
		}{
			{sender.AccountID, -amount},
			{receiver.AccountID, amount},
		} {
			row := sqlTx.QueryRowContext(ctx, `
				UPDATE accounts SET balance = balance + $2, updated_at = $3
				WHERE id = $1
				RETURNING balance
			`, pair.accountID, pair.delta, now)
			var balance int64
			if err := row.Scan(&balance); err != nil {
				return ledger.Wrap(ledger.StoreError, "apply transfer delta", err)
			}
			if pair.accountID == receiver.AccountID {
				recvBalance = balance
			}
		}

		for _, tx := range []*ledger.Transaction{&sender, &receiver} {
			tx.Status = ledger.StatusCompleted
			tx.CreatedAt = now
			tx.UpdatedAt = now
			tx.CompletedAt = now
			if err := insertTransactionTx(ctx, sqlTx, *tx); err != nil {
				return err
			}
		}
		senderOut, receiverOut = sender, receiver
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, 0, err
	}
	return senderOut, receiverOut, recvBalance, nil
}

func (s *Store) CreditDeposit(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, int64, error) {
	var (
		out        ledger.Transaction
		newBalance int64
	)
	err := s.withSerializable(ctx, func(sqlTx *sql.Tx) error {
		existing, err := getTransactionTx(ctx, sqlTx, tx.ID)
		if err == nil {
			row := sqlTx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, tx.AccountID)
			if err := row.Scan(&newBalance); err != nil {
				return ledger.Wrap(ledger.StoreError, "read balance", err)
			}
			out = existing
			return nil
		}
		if !ledger.IsKind(err, ledger.NotFoundError) {
			return err
		}

		now := time.Now().UTC()
		row := sqlTx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance + $2, updated_at = $3
			WHERE id = $1
			RETURNING balance
		`, tx.AccountID, tx.Amount, now)
		if err := row.Scan(&newBalance); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.E(ledger.NotFoundError, "account not found")
			}
			return ledger.Wrap(ledger.StoreError, "credit balance", err)
		}

		tx.Status = ledger.StatusCompleted
		tx.CreatedAt = now
		tx.UpdatedAt = now
		tx.CompletedAt = now
		if err := insertTransactionTx(ctx, sqlTx, tx); err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, 0, err
	}
	return out, newBalance, nil
}

func (s *Store) stateErrorFor(ctx context.Context, sqlTx *sql.Tx, txID, action string) error {
	existing, err := getTransactionTx(ctx, sqlTx, txID)
	if err != nil {
		return err
	}
	return ledger.E(ledger.StateError, fmt.Sprintf("transaction %s is %s, %s", txID, existing.Status, action))
}

const transactionColumns = `id, account_id, kind, amount, status, payment_request, proof_token, memo, counterparty_id, failure_reason, created_at, updated_at, completed_at`

func getTransactionTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id string) (ledger.Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func insertTransactionTx(ctx context.Context, sqlTx *sql.Tx, tx ledger.Transaction) error {
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, status, payment_request, proof_token, memo, counterparty_id, failure_reason, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, tx.ID, tx.AccountID, tx.Kind, tx.Amount, tx.Status, tx.PaymentRequest, tx.ProofToken,
		tx.Memo, tx.CounterpartyID, tx.FailureReason, tx.CreatedAt, tx.UpdatedAt, toNullTime(tx.CompletedAt))
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "insert transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx          ledger.Transaction
		completedAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.Kind, &tx.Amount, &tx.Status, &tx.PaymentRequest,
		&tx.ProofToken, &tx.Memo, &tx.CounterpartyID, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.E(ledger.NotFoundError, "transaction not found")
	}
	if err != nil {
		return ledger.Transaction{}, ledger.Wrap(ledger.StoreError, "scan transaction", err)
	}
	if completedAt.Valid {
		tx.CompletedAt = completedAt.Time.UTC()
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE $1 = '' OR account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, ledger.Wrap(ledger.StoreError, "list transactions", err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) SumCompletedSigned(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'withdrawal' THEN -amount ELSE amount END), 0)
		FROM transactions
		WHERE account_id = $1 AND status = 'completed'
	`, accountID).Scan(&total)
	if err != nil {
		return 0, ledger.Wrap(ledger.StoreError, "sum completed transactions", err)
	}
	return total, nil
}

func (s *Store) SumCompletedWithdrawals(ctx context.Context, accountID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE kind = 'withdrawal'
		  AND status = 'completed'
		  AND completed_at >= $2
		  AND ($1 = '' OR account_id = $1)
	`, accountID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, ledger.Wrap(ledger.StoreError, "sum completed withdrawals", err)
	}
	return total, nil
}

// --- ApprovalStore ----------------------------------------------------------

func (s *Store) CreateApproval(ctx context.Context, req ledger.ApprovalRequest) error {
	if req.QueuedAt.IsZero() {
		req.QueuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_approvals (transaction_id, account_id, amount, queued_at)
		VALUES ($1, $2, $3, $4)
	`, req.TransactionID, req.AccountID, req.Amount, req.QueuedAt)
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "create approval", err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, txID string) (ledger.ApprovalRequest, error) {
	var req ledger.ApprovalRequest
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, account_id, amount, queued_at
		FROM withdrawal_approvals
		WHERE transaction_id = $1
	`, txID)
	err := row.Scan(&req.TransactionID, &req.AccountID, &req.Amount, &req.QueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ApprovalRequest{}, ledger.E(ledger.NotFoundError, "approval not found")
	}
	if err != nil {
		return ledger.ApprovalRequest{}, ledger.Wrap(ledger.StoreError, "scan approval", err)
	}
	return req, nil
}

func (s *Store) ListApprovals(ctx context.Context) ([]ledger.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, account_id, amount, queued_at
		FROM withdrawal_approvals
		ORDER BY queued_at
	`)
	if err != nil {
		return nil, ledger.Wrap(ledger.StoreError, "list approvals", err)
	}
	defer rows.Close()

	var result []ledger.ApprovalRequest
	for rows.Next() {
		var req ledger.ApprovalRequest
		if err := rows.Scan(&req.TransactionID, &req.AccountID, &req.Amount, &req.QueuedAt); err != nil {
			return nil, ledger.Wrap(ledger.StoreError, "scan approval", err)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *Store) DeleteApproval(ctx context.Context, txID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM withdrawal_approvals WHERE transaction_id = $1
	`, txID)
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "delete approval", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.E(ledger.NotFoundError, "approval not found")
	}
	return nil
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendAuditEvent(ctx context.Context, event ledger.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "marshal audit details", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, transaction_id, action, details, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.TransactionID, event.Action, detailsJSON, event.IP, event.UserAgent, event.CreatedAt)
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "append audit event", err)
	}
	return nil
}

func (s *Store) ListAuditEvents(ctx context.Context, txID string) ([]ledger.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, action, details, ip, user_agent, created_at
		FROM audit_events
		WHERE $1 = '' OR transaction_id = $1
		ORDER BY created_at
	`, txID)
	if err != nil {
		return nil, ledger.Wrap(ledger.StoreError, "list audit events", err)
	}
	defer rows.Close()

	var result []ledger.AuditEvent
	for rows.Next() {
		var (
			event      ledger.AuditEvent
			detailsRaw []byte
		)
		if err := rows.Scan(&event.ID, &event.TransactionID, &event.Action, &detailsRaw, &event.IP, &event.UserAgent, &event.CreatedAt); err != nil {
			return nil, ledger.Wrap(ledger.StoreError, "scan audit event", err)
		}
		if len(detailsRaw) > 0 {
			_ = json.Unmarshal(detailsRaw, &event.Details)
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// --- KillSwitchStore --------------------------------------------------------

func (s *Store) ReadKillSwitch(ctx context.Context) (ledger.KillSwitchState, error) {
	var state ledger.KillSwitchState
	row := s.db.QueryRowContext(ctx, `
		SELECT withdrawals_enabled, reason, updated_by, updated_at
		FROM kill_switch
		WHERE id = 1
	`)
	err := row.Scan(&state.WithdrawalsEnabled, &state.Reason, &state.UpdatedBy, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Seed row missing: treat as enabled but do not cache.
		return ledger.KillSwitchState{WithdrawalsEnabled: true}, nil
	}
	if err != nil {
		return ledger.KillSwitchState{}, ledger.Wrap(ledger.StoreError, "read kill switch", err)
	}
	return state, nil
}

func (s *Store) WriteKillSwitch(ctx context.Context, enabled bool, reason, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kill_switch (id, withdrawals_enabled, reason, updated_by, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET withdrawals_enabled = $1, reason = $2, updated_by = $3, updated_at = $4
	`, enabled, reason, actor, time.Now().UTC())
	if err != nil {
		return ledger.Wrap(ledger.StoreError, "write kill switch", err)
	}
	return nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
