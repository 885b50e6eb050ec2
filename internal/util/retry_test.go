package util

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limited", &HTTPStatusError{Status: 429}, true},
		{"server error", &HTTPStatusError{Status: 503}, true},
		{"unauthorized", &HTTPStatusError{Status: 401}, false},
		{"forbidden", &HTTPStatusError{Status: 403}, false},
		{"not found", &HTTPStatusError{Status: 404}, false},
		{"wrapped server error", fmt.Errorf("page fetch: %w", &HTTPStatusError{Status: 500}), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"timeout message", errors.New("request timed out"), true},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("malformed response"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.retryable {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	attempts := 0
	result, err := RetryWithBackoff(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &HTTPStatusError{Status: 502}
		}
		return 42, nil
	}, "test-op")

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoffStopsOnFatalError(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	attempts := 0
	_, err := RetryWithBackoff(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, &HTTPStatusError{Status: 401}
	}, "test-op")

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt for fatal error, got %d", attempts)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	attempts := 0
	_, err := RetryWithBackoff(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, &HTTPStatusError{Status: 500}
	}, "test-op")

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("expected wrapped HTTPStatusError, got %v", err)
	}
}

func TestRetryWithBackoffHonorsContextCancellation(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 10, InitialWait: 50 * time.Millisecond, MaxWait: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithBackoff(ctx, cfg, func() (int, error) {
		return 0, &HTTPStatusError{Status: 500}
	}, "test-op")

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
