package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	cause := fmt.Errorf("unexpected end of JSON input")

	t.Run("whole file", func(t *testing.T) {
		err := NewParseError("/tmp/tasks.json", cause)
		want := "parse error [path=/tmp/tasks.json]: unexpected end of JSON input"
		if got := err.Error(); got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})

	t.Run("single record", func(t *testing.T) {
		err := NewParseError("/tmp/tasks.json", cause).WithIndex(2)
		if !strings.Contains(err.Error(), "index=2") {
			t.Errorf("Error() = %q, want index=2", err.Error())
		}
	})

	t.Run("matches sentinel and type", func(t *testing.T) {
		err := fmt.Errorf("load: %w", NewParseError("/tmp/x.json", cause))
		if !Is(err, ErrParse) {
			t.Error("Is(ErrParse) = false, want true")
		}
		var pe *ParseError
		if !As(err, &pe) {
			t.Fatal("As(*ParseError) = false, want true")
		}
		if pe.Index != -1 {
			t.Errorf("Index = %d, want -1", pe.Index)
		}
	})

	t.Run("not retryable", func(t *testing.T) {
		if IsRetryable(NewParseError("/tmp/x.json", cause)) {
			t.Error("IsRetryable() = true, want false")
		}
	})
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("run", "abc")
	if got := err.Error(); got != "run 'abc' not found" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, ErrNotFound) {
		t.Error("Is(ErrNotFound) = false, want true")
	}
	if !Is(err, &NotFoundError{}) {
		t.Error("Is(NotFoundError{}) = false, want true")
	}

	wrapped := NewNotFoundError("run", "abc").WithCause(ErrRunNotFound)
	if !Is(wrapped, ErrRunNotFound) {
		t.Error("Is(ErrRunNotFound) = false, want true")
	}
	if GetSeverity(wrapped) != SeverityWarning {
		t.Errorf("GetSeverity() = %v, want warning", GetSeverity(wrapped))
	}
}

func TestLockError(t *testing.T) {
	err := NewLockError("/ws/state/tasks.json.lock", 1500*time.Millisecond).WithAttempts(4)

	msg := err.Error()
	for _, want := range []string{"/ws/state/tasks.json.lock", "1.5s", "4 attempts"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !Is(err, ErrLock) {
		t.Error("Is(ErrLock) = false, want true")
	}
	if !IsRetryable(fmt.Errorf("update: %w", err)) {
		t.Error("IsRetryable() = false, want true")
	}

	withCause := NewLockError("/x.lock", time.Second).WithCause(ErrCanceled)
	if !Is(withCause, ErrCanceled) {
		t.Error("Is(ErrCanceled) = false, want true")
	}
}

func TestWriteError(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewWriteError("/ws/state/issues.json", cause)
	if got := err.Error(); got != "write /ws/state/issues.json: permission denied" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, ErrWrite) {
		t.Error("Is(ErrWrite) = false, want true")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("task record invalid").WithFields(
		FieldViolation{Field: "status", Rule: "oneof", Value: "weird"},
		FieldViolation{Field: "id", Rule: "required"},
	)

	want := "validation error [status (oneof), id (required)]: task record invalid"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	names := err.FieldNames()
	if len(names) != 2 || names[0] != "status" || names[1] != "id" {
		t.Errorf("FieldNames() = %v", names)
	}
	if !Is(err, ErrValidation) || !Is(err, ErrInvalidInput) {
		t.Error("validation error should match ErrValidation and ErrInvalidInput")
	}
	if !IsUserFacing(err) {
		t.Error("IsUserFacing() = false, want true")
	}
}

func TestDataLossError(t *testing.T) {
	err := NewDataLossError("/ws/state/tasks.json", 12, 0)
	msg := err.Error()
	if !strings.Contains(msg, "12 records on disk") || !strings.Contains(msg, "fix schema issues") {
		t.Errorf("Error() = %q", msg)
	}
	if !Is(fmt.Errorf("save: %w", err), ErrDataLoss) {
		t.Error("Is(ErrDataLoss) = false, want true")
	}
	if GetSeverity(err) != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", GetSeverity(err))
	}
}

func TestClassificationHelpers_PlainErrors(t *testing.T) {
	plain := errors.New("boom")

	if IsRetryable(nil) || IsRetryable(plain) {
		t.Error("IsRetryable should be false for nil and plain errors")
	}
	if IsUserFacing(nil) || IsUserFacing(plain) {
		t.Error("IsUserFacing should be false for nil and plain errors")
	}
	if GetSeverity(nil) != SeverityDebug {
		t.Error("GetSeverity(nil) should be debug")
	}
	if GetSeverity(plain) != SeverityError {
		t.Error("GetSeverity(plain) should be error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}

	err := Wrapf(ErrRunNotFound, "select run %s", "r1")
	if err.Error() != "select run r1: run not found" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(Wrap(ErrRunNotFound, "ctx"), ErrRunNotFound) {
		t.Error("Wrap should preserve the chain")
	}
}
