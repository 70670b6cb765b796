package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryHelper_RetriesBusyOnly(t *testing.T) {
	t.Parallel()

	helper := NewRetryHelper(fastRetry())
	calls := 0
	err := helper.WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: locked", errDatabaseBusy)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	domainErr := &persistence.InvalidMoveError{Reason: "same container"}
	err = helper.WithRetry(context.Background(), func() error {
		calls++
		return domainErr
	})
	if !errors.Is(err, persistence.ErrInvalidMove) || calls != 1 {
		t.Fatalf("expected domain error without retry, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = helper.WithRetry(context.Background(), func() error {
		calls++
		return errDatabaseBusy
	})
	if !errors.Is(err, errDatabaseBusy) || calls != 3 {
		t.Fatalf("expected exhausted retries, got err=%v calls=%d", err, calls)
	}
}

func TestRetryHelper_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRetryHelper(fastRetry()).WithRetry(ctx, func() error { return errDatabaseBusy })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestErrorMapper_MapError(t *testing.T) {
	t.Parallel()

	mapper := NewErrorMapper()
	if mapper.MapError(nil) != nil {
		t.Fatalf("nil must map to nil")
	}
	if err := mapper.MapError(sql.ErrNoRows); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	plain := errors.New("plain")
	if err := mapper.MapError(plain); err != plain {
		t.Fatalf("non-driver errors must pass through, got %v", err)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	t.Parallel()

	early := time.Date(2025, 1, 6, 9, 0, 0, 5, time.UTC)
	late := early.Add(time.Nanosecond * 995)
	if !(formatTime(early) < formatTime(late)) {
		t.Fatalf("expected %s < %s", formatTime(early), formatTime(late))
	}
	parsed, err := parseTime(formatTime(late))
	if err != nil || !parsed.Equal(late) {
		t.Fatalf("round trip failed: %v %v", parsed, err)
	}
}
