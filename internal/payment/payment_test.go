package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/satsboard/ledger-service/internal/domain/ledger"
)

func TestWithTimeoutPassesThroughSuccess(t *testing.T) {
	exec := WithTimeout(&Fake{}, time.Second)

	res, err := exec.Pay(context.Background(), "lnbc1...", 500)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if res.ProofToken == "" {
		t.Fatal("expected a proof token")
	}
}

func TestWithTimeoutClassifiesDeadline(t *testing.T) {
	slow := &Fake{PayFunc: func(ctx context.Context, _ string, _ int64) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}
	exec := WithTimeout(slow, 20*time.Millisecond)

	_, err := exec.Pay(context.Background(), "lnbc1...", 500)
	if !ledger.IsKind(err, ledger.PaymentError) {
		t.Fatalf("expected payment error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline cause preserved, got %v", err)
	}
}

func TestWithTimeoutWrapsProviderErrors(t *testing.T) {
	failing := &Fake{PayFunc: func(context.Context, string, int64) (Result, error) {
		return Result{}, fmt.Errorf("socket closed")
	}}
	exec := WithTimeout(failing, time.Second)

	_, err := exec.Pay(context.Background(), "lnbc1...", 500)
	if !ledger.IsKind(err, ledger.PaymentError) {
		t.Fatalf("expected payment classification, got %v", err)
	}
}

func TestWithTimeoutKeepsClassifiedErrors(t *testing.T) {
	classified := &Fake{PayFunc: func(context.Context, string, int64) (Result, error) {
		return Result{}, ledger.E(ledger.PaymentError, "no route to destination")
	}}
	exec := WithTimeout(classified, time.Second)

	_, err := exec.Pay(context.Background(), "lnbc1...", 500)
	var domainErr *ledger.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Message != "no route to destination" {
		t.Fatalf("classified message must pass through, got %q", domainErr.Message)
	}
}
