package scheduler

import "fmt"

// RequestError reports malformed search input. The provider is never called when it is returned.
type RequestError struct {
	FieldErrors map[string]string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("scheduler: invalid request (%d field errors)", len(e.FieldErrors))
}

// HasErrors reports whether any field level issue was recorded.
func (e *RequestError) HasErrors() bool {
	return e != nil && len(e.FieldErrors) > 0
}

func (e *RequestError) add(field, message string) {
	if e.FieldErrors == nil {
		e.FieldErrors = make(map[string]string)
	}
	e.FieldErrors[field] = message
}

// ProviderError wraps a failed or timed out free/busy lookup. Callers may retry.
type ProviderError struct {
	Err     error
	Timeout bool
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("scheduler: availability provider timed out: %v", e.Err)
	}
	return fmt.Sprintf("scheduler: availability provider failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
