package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrInvocationRetryable, "upstream timed out").
		WithCause(root).
		WithRetryable(true).
		WithNodeID("summarize")

	if GetErrorCode(err) != ErrInvocationRetryable {
		t.Fatalf("expected code %s, got %s", ErrInvocationRetryable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_NonRetryableByDefault(t *testing.T) {
	t.Parallel()

	err := NewError(ErrInvocationFatal, "malformed request")
	if IsRetryable(err) {
		t.Fatalf("fatal errors must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors must not be retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
