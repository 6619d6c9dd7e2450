// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(int) (bool, error) {
		attempts++
		if attempts < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	attempts := 0
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(int) (bool, error) {
		attempts++
		return false, permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("expected the permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("permanent failure retried %d times", attempts)
	}
}

func TestRetryWithBackoff_Exhaustion(t *testing.T) {
	t.Parallel()

	transient := errors.New("still down")
	err := RetryWithBackoff(context.Background(), 2, time.Millisecond, func(int) (bool, error) {
		return true, transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("expected the last transient error, got %v", err)
	}
}

func TestRetryWithBackoff_RespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, 10, time.Millisecond, func(int) (bool, error) {
		attempts++
		cancel()
		return true, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
