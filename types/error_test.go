package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := UnavailableError("table get", root).WithResource("CONV#1")

	if GetErrorCode(err) != ErrUnavailable {
		t.Fatalf("expected code %s, got %s", ErrUnavailable, GetErrorCode(err))
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

func TestError_HelpersSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("add message: %w", NotFoundError("conversation", "c1"))
	if !IsNotFound(wrapped) {
		t.Fatalf("expected wrapped error to be NOT_FOUND")
	}
	if IsAccessDenied(wrapped) || IsUnavailable(wrapped) {
		t.Fatalf("unexpected code match")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("not found must not be retryable")
	}

	denied := AccessDeniedError("get_item", "k")
	if !IsAccessDenied(denied) || denied.Resource != "k" {
		t.Fatalf("unexpected access denied error: %+v", denied)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
