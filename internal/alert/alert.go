// Package alert delivers anomaly notifications to operators. Dispatch is
// asynchronous through a bounded queue so a slow email/SMS/webhook provider
// can never stall a financial operation; drops are counted and logged rather
// than silently lost.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satsboard/ledger-service/pkg/logger"
)

// Severities used by the pipeline. High-priority events go to every notifier.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one operator notification. Details may carry internal numbers that
// are never shown to end users.
type Event struct {
	Severity string            `json:"severity"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier delivers one event to one channel (log, webhook, email/SMS relay).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

const (
	defaultQueueSize = 256
	defaultTimeout   = 10 * time.Second
)

// Dispatcher fans events out to the configured notifiers from a single
// background worker.
type Dispatcher struct {
	notifiers []Notifier
	log       *logger.Logger
	timeout   time.Duration

	queue   chan Event
	once    sync.Once
	stopped atomic.Bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over the given notifiers.
func NewDispatcher(log *logger.Logger, notifiers ...Notifier) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &Dispatcher{
		notifiers: notifiers,
		log:       log,
		timeout:   defaultTimeout,
		queue:     make(chan Event, defaultQueueSize),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// Stop drains the queue and waits for in-flight deliveries, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert dispatcher stop: %w", ctx.Err())
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Dispatch enqueues an event. It never blocks; when the queue is full the
// event is dropped, counted and logged.
func (d *Dispatcher) Dispatch(event Event) bool {
	if d.stopped.Load() {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.dropped.Add(1)
		d.log.WithField("code", event.Code).Error("alert queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for event := range d.queue {
		for _, notifier := range d.notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := notifier.Notify(ctx, event); err != nil {
				d.log.WithError(err).WithField("code", event.Code).Error("alert delivery failed")
			}
			cancel()
		}
	}
}

// LogNotifier writes alerts to the operational log. It is always configured so
// every alert leaves at least one trace.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	entry := n.log.WithFields(map[string]interface{}{
		"severity": event.Severity,
		"code":     event.Code,
		"details":  event.Details,
	})
	if event.Severity == SeverityCritical {
		entry.Error(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// WebhookNotifier POSTs alerts as JSON to an operator endpoint (the email/SMS
// relay lives behind it).
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier for the given endpoint.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
	}
	return nil
}
