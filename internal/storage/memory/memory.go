// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. Every operation runs under one mutex, which makes each
// multi-step ledger mutation trivially atomic; it is intended for tests and
// prototyping.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	accounts    map[string]ledger.Account
	byUsername  map[string]string
	txs         map[string]ledger.Transaction
	approvals   map[string]ledger.ApprovalRequest
	auditEvents []ledger.AuditEvent
	killSwitch  ledger.KillSwitchState

	now func() time.Time
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ApprovalStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.KillSwitchStore = (*Store)(nil)

// New creates an empty store with withdrawals enabled.
func New() *Store {
	return &Store{
		nextID:     1,
		accounts:   make(map[string]ledger.Account),
		byUsername: make(map[string]string),
		txs:        make(map[string]ledger.Transaction),
		approvals:  make(map[string]ledger.ApprovalRequest),
		killSwitch: ledger.KillSwitchState{WithdrawalsEnabled: true},
		now:        time.Now,
	}
}

// SetClock overrides the store clock; tests use it to move time.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return ledger.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}

	key := strings.ToLower(strings.TrimSpace(acct.Username))
	if key != "" {
		if _, exists := s.byUsername[key]; exists {
			return ledger.Account{}, fmt.Errorf("username %s already taken", acct.Username)
		}
	}

	if acct.Status == "" {
		acct.Status = ledger.AccountActive
	}
	now := s.now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	if key != "" {
		s.byUsername[key] = acct.ID
	}
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAccountLocked(id)
}

func (s *Store) getAccountLocked(id string) (ledger.Account, error) {
	acct, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.E(ledger.NotFoundError, fmt.Sprintf("account %s not found", id))
	}
	return acct, nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return ledger.Account{}, ledger.E(ledger.NotFoundError, "recipient not found")
	}
	return s.getAccountLocked(id)
}

func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SetAccountStatus(_ context.Context, id string, status ledger.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.getAccountLocked(id)
	if err != nil {
		return err
	}
	acct.Status = status
	acct.UpdatedAt = s.now().UTC()
	s.accounts[id] = acct
	return nil
}

// SetBalance overwrites a stored balance directly, bypassing the ledger. Only
// tests use it, to manufacture reconciliation drift.
func (s *Store) SetBalance(id string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.accounts[id]; ok {
		acct.Balance = balance
		s.accounts[id] = acct
	}
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) ReserveWithdrawal(_ context.Context, tx ledger.Transaction) (ledger.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.txs[tx.ID]; ok {
		return existing, false, nil
	}

	acct, err := s.getAccountLocked(tx.AccountID)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if acct.Status != ledger.AccountActive {
		return ledger.Transaction{}, false, ledger.E(ledger.ValidationError, "account is not active")
	}

	available := acct.Balance - s.inFlightWithdrawalsLocked(tx.AccountID)
	if tx.Amount > available {
		return ledger.Transaction{}, false, ledger.E(ledger.InsufficientBalance, "insufficient balance")
	}

	if tx.Status != ledger.StatusPendingApproval {
		tx.Status = ledger.StatusPending
	}
	now := s.now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.txs[tx.ID] = tx
	return tx, true, nil
}

func (s *Store) inFlightWithdrawalsLocked(accountID string) int64 {
	var total int64
	for _, tx := range s.txs {
		if tx.AccountID != accountID || tx.Kind != ledger.KindWithdrawal {
			continue
		}
		switch tx.Status {
		case ledger.StatusPending, ledger.StatusPendingApproval, ledger.StatusProcessing:
			total += tx.Amount
		}
	}
	return total
}

func (s *Store) MarkProcessing(_ context.Context, txID string) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return ledger.Transaction{}, ledger.E(ledger.NotFoundError, fmt.Sprintf("transaction %s not found", txID))
	}
	if tx.Status != ledger.StatusPending && tx.Status != ledger.StatusPendingApproval {
		return ledger.Transaction{}, ledger.E(ledger.StateError, fmt.Sprintf("transaction %s is %s, cannot start processing", txID, tx.Status))
	}
	tx.Status = ledger.StatusProcessing
	tx.UpdatedAt = s.now().UTC()
	s.txs[txID] = tx
	return tx, nil
}

func (s *Store) CompleteWithdrawal(_ context.Context, txID, proofToken string) (ledger.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return ledger.Transaction{}, 0, ledger.E(ledger.NotFoundError, fmt.Sprintf("transaction %s not found", txID))
	}
	if tx.Status != ledger.StatusProcessing {
		return ledger.Transaction{}, 0, ledger.E(ledger.StateError, fmt.Sprintf("transaction %s is %s, cannot complete", txID, tx.Status))
	}

	acct, err := s.getAccountLocked(tx.AccountID)
	if err != nil {
		return ledger.Transaction{}, 0, err
	}

	now := s.now().UTC()
	acct.Balance -= tx.Amount
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct

	tx.Status = ledger.StatusCompleted
	tx.ProofToken = proofToken
	tx.UpdatedAt = now
	tx.CompletedAt = now
	s.txs[txID] = tx
	return tx, acct.Balance, nil
}

func (s *Store) ReleaseWithdrawal(_ context.Context, txID, reason string) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return ledger.Transaction{}, ledger.E(ledger.NotFoundError, fmt.Sprintf("transaction %s not found", txID))
	}
	if tx.Status.Terminal() {
		return ledger.Transaction{}, ledger.E(ledger.StateError, fmt.Sprintf("transaction %s is already %s", txID, tx.Status))
	}

	tx.Status = ledger.StatusFailed
	tx.FailureReason = reason
	tx.UpdatedAt = s.now().UTC()
	s.txs[txID] = tx
	return tx, nil
}

func (s *Store) ReserveAndCommitTransfer(_ context.Context, sender, receiver ledger.Transaction) (ledger.Transaction, ledger.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.txs[sender.ID]; ok {
		counterpart, cok := s.txs[receiver.ID]
		if !cok {
			return ledger.Transaction{}, ledger.Transaction{}, 0, ledger.E(ledger.StateError, "transfer replay with missing counterpart row")
		}
		recvAcct, err := s.getAccountLocked(receiver.AccountID)
		if err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, 0, err
		}
		return existing, counterpart, recvAcct.Balance, nil
	}

	sendAcct, err := s.getAccountLocked(sender.AccountID)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, 0, err
	}
	recvAcct, err := s.getAccountLocked(receiver.AccountID)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, 0, err
	}
	if sendAcct.Status != ledger.AccountActive || recvAcct.Status != ledger.AccountActive {
		return ledger.Transaction{}, ledger.Transaction{}, 0, ledger.E(ledger.ValidationError, "account is not active")
	}

	amount := receiver.Amount
	available := sendAcct.Balance - s.inFlightWithdrawalsLocked(sender.AccountID)
	if amount > available {
		return ledger.Transaction{}, ledger.Transaction{}, 0, ledger.E(ledger.InsufficientBalance, "insufficient balance")
	}

	now := s.now().UTC()
	sendAcct.Balance -= amount
	sendAcct.UpdatedAt = now
	recvAcct.Balance += amount
	recvAcct.UpdatedAt = now
	s.accounts[sendAcct.ID] = sendAcct
	s.accounts[recvAcct.ID] = recvAcct

	for _, tx := range []*ledger.Transaction{&sender, &receiver} {
		tx.Status = ledger.StatusCompleted
		tx.CreatedAt = now
		tx.UpdatedAt = now
		tx.CompletedAt = now
		s.txs[tx.ID] = *tx
	}
	return sender, receiver, recvAcct.Balance, nil
}

func (s *Store) CreditDeposit(_ context.Context, tx ledger.Transaction) (ledger.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.txs[tx.ID]; ok {
		acct, err := s.getAccountLocked(tx.AccountID)
		if err != nil {
			return ledger.Transaction{}, 0, err
		}
		return existing, acct.Balance, nil
	}

	acct, err := s.getAccountLocked(tx.AccountID)
	if err != nil {
		return ledger.Transaction{}, 0, err
	}

	now := s.now().UTC()
	acct.Balance += tx.Amount
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct

	tx.Status = ledger.StatusCompleted
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.CompletedAt = now
	s.txs[tx.ID] = tx
	return tx, acct.Balance, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return ledger.Transaction{}, ledger.E(ledger.NotFoundError, fmt.Sprintf("transaction %s not found", id))
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.Transaction, 0)
	for _, tx := range s.txs {
		if accountID == "" || tx.AccountID == accountID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) SumCompletedSigned(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, tx := range s.txs {
		if tx.AccountID == accountID && tx.Status == ledger.StatusCompleted {
			total += tx.SignedAmount()
		}
	}
	return total, nil
}

func (s *Store) SumCompletedWithdrawals(_ context.Context, accountID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, tx := range s.txs {
		if tx.Kind != ledger.KindWithdrawal || tx.Status != ledger.StatusCompleted {
			continue
		}
		if accountID != "" && tx.AccountID != accountID {
			continue
		}
		if tx.CompletedAt.Before(since) {
			continue
		}
		total += tx.Amount
	}
	return total, nil
}

// ApprovalStore implementation ------------------------------------------------

func (s *Store) CreateApproval(_ context.Context, req ledger.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.approvals[req.TransactionID]; exists {
		return fmt.Errorf("approval for transaction %s already exists", req.TransactionID)
	}
	if req.QueuedAt.IsZero() {
		req.QueuedAt = s.now().UTC()
	}
	s.approvals[req.TransactionID] = req
	return nil
}

func (s *Store) GetApproval(_ context.Context, txID string) (ledger.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.approvals[txID]
	if !ok {
		return ledger.ApprovalRequest{}, ledger.E(ledger.NotFoundError, fmt.Sprintf("approval for transaction %s not found", txID))
	}
	return req, nil
}

func (s *Store) ListApprovals(_ context.Context) ([]ledger.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.ApprovalRequest, 0, len(s.approvals))
	for _, req := range s.approvals {
		result = append(result, req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueuedAt.Before(result[j].QueuedAt) })
	return result, nil
}

func (s *Store) DeleteApproval(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.approvals[txID]; !ok {
		return ledger.E(ledger.NotFoundError, fmt.Sprintf("approval for transaction %s not found", txID))
	}
	delete(s.approvals, txID)
	return nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAuditEvent(_ context.Context, event ledger.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	s.auditEvents = append(s.auditEvents, event)
	return nil
}

func (s *Store) ListAuditEvents(_ context.Context, txID string) ([]ledger.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.AuditEvent, 0)
	for _, event := range s.auditEvents {
		if txID == "" || event.TransactionID == txID {
			result = append(result, event)
		}
	}
	return result, nil
}

// KillSwitchStore implementation ----------------------------------------------

func (s *Store) ReadKillSwitch(_ context.Context) (ledger.KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch, nil
}

func (s *Store) WriteKillSwitch(_ context.Context, enabled bool, reason, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.killSwitch = ledger.KillSwitchState{
		WithdrawalsEnabled: enabled,
		Reason:             reason,
		UpdatedBy:          actor,
		UpdatedAt:          s.now().UTC(),
	}
	return nil
}
