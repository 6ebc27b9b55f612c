// Package audit records the append-only forensic trail for ledger
// transactions. Recording is fire-and-forget relative to the critical path:
// events pass through a bounded queue to the store, write failures are logged
// operationally and counted, and nothing here can fail a financial operation.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Lifecycle actions recorded per transaction.
const (
	ActionInitiated        = "initiated"
	ActionApprovalQueued   = "approval_queued"
	ActionApprovalResolved = "approval_resolved"
	ActionProcessing       = "processing"
	ActionCompleted        = "completed"
	ActionFailed           = "failed"
	ActionDeposited        = "deposited"
	ActionTransferred      = "transferred"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// RequestMeta carries the caller context captured at the boundary.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Log is the asynchronous audit writer.
type Log struct {
	store   storage.AuditStore
	log     *logger.Logger
	timeout time.Duration

	queue   chan ledger.AuditEvent
	once    sync.Once
	stopped atomic.Bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// New creates a Log writing to the given store.
func New(store storage.AuditStore, log *logger.Logger) *Log {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Log{
		store:   store,
		log:     log,
		timeout: defaultWriteTimeout,
		queue:   make(chan ledger.AuditEvent, defaultQueueSize),
	}
}

// Start launches the writer goroutine.
func (l *Log) Start() {
	l.once.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
}

// Stop drains the queue and waits for in-flight writes, bounded by ctx.
func (l *Log) Stop(ctx context.Context) error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(l.queue)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit stop: %w", ctx.Err())
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *Log) Dropped() uint64 { return l.dropped.Load() }

// Record enqueues one lifecycle event. It never blocks and never returns an
// error; the caller's financial operation is already committed or refused.
func (l *Log) Record(txID, action string, details map[string]string, meta RequestMeta) {
	if l == nil || l.stopped.Load() {
		return
	}

	event := ledger.AuditEvent{
		ID:            uuid.NewString(),
		TransactionID: txID,
		Action:        action,
		Details:       details,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
		CreatedAt:     time.Now().UTC(),
	}

	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		l.log.WithFields(map[string]interface{}{"tx": txID, "action": action}).Error("audit queue full, event dropped")
	}
}

func (l *Log) run() {
	defer l.wg.Done()

	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.store.AppendAuditEvent(ctx, event); err != nil {
			l.log.WithError(err).WithFields(map[string]interface{}{
				"tx":     event.TransactionID,
				"action": event.Action,
			}).Error("audit write failed")
		}
		cancel()
	}
}
