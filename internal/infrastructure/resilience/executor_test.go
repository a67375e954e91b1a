package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func retryOnlyExecutor() *Executor {
	return NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	exec := retryOnlyExecutor()

	attempts := 0
	errTransient := errors.New("connection reset")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTransient), RecordFailure: true}
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	exec := retryOnlyExecutor()

	attempts := 0
	errPermanent := errors.New("bad request")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{}
	})

	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := retryOnlyExecutor()

	attempts := 0
	errTransient := errors.New("timeout")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errTransient
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})

	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := errors.New("upstream down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errDown
		}, classifier)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: expected upstream error, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("operation must not run while the circuit is open")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen should report the open breaker")
	}
}

func TestExecuteIsolatesBreakersPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := errors.New("upstream down")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "failing", func(context.Context) error {
			return errDown
		}, classifier)
	}

	err := exec.Execute(context.Background(), "healthy", func(context.Context) error {
		return nil
	}, classifier)
	if err != nil {
		t.Fatalf("healthy operation must not share the failing breaker: %v", err)
	}
}
