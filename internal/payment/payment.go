// Package payment abstracts the external Lightning payment execution. The
// pipeline treats a payment as an opaque call that either succeeds with a
// proof-of-payment token or fails; routing mechanics live behind the
// Executor implementation.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
)

// Result carries the settlement proof returned by the network.
type Result struct {
	ProofToken string
}

// Executor performs one Lightning payment.
type Executor interface {
	Pay(ctx context.Context, invoice string, amountSats int64) (Result, error)
}

// WithTimeout bounds every payment call. A timed-out payment surfaces as a
// PaymentError so the caller releases the reservation; the user may retry
// with a new transaction id.
func WithTimeout(exec Executor, timeout time.Duration) Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &timeoutExecutor{exec: exec, timeout: timeout}
}

type timeoutExecutor struct {
	exec    Executor
	timeout time.Duration
}

func (t *timeoutExecutor) Pay(ctx context.Context, invoice string, amountSats int64) (Result, error) {
	payCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.exec.Pay(payCtx, invoice, amountSats)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, ledger.Wrap(ledger.PaymentError, "payment timed out", err)
		}
		if ledger.IsKind(err, ledger.PaymentError) {
			return Result{}, err
		}
		return Result{}, ledger.Wrap(ledger.PaymentError, "payment failed", err)
	}
	return result, nil
}

// Fake is a scriptable Executor for tests.
type Fake struct {
	PayFunc func(ctx context.Context, invoice string, amountSats int64) (Result, error)
	Calls   int
}

func (f *Fake) Pay(ctx context.Context, invoice string, amountSats int64) (Result, error) {
	f.Calls++
	if f.PayFunc != nil {
		return f.PayFunc(ctx, invoice, amountSats)
	}
	return Result{ProofToken: "proof-" + invoice}, nil
}
