package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiyo123456/Tatemoku-management/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(base)
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}

	var (
		vErr       *ValidationError
		conflict   *ConflictError
		dependency *DependencyError
		invariant  *InvariantViolationError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &conflict):
		return string(conflict.Reason) + "_conflict"
	case errors.As(err, &invariant):
		return "invariant_violation"
	case errors.As(err, &dependency):
		return "dependency"
	}
	return "unexpected"
}
