package coreerrors

import (
	"errors"
	"testing"
)

func TestCoreErrorMessageWithUnit(t *testing.T) {
	err := NewError("commit").Unit("0000000000000001").AtCV(7).Cause(errors.New("disk full")).Err()
	want := "commit unit 0000000000000001 (cv 7): disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCoreErrorMessageWithoutUnit(t *testing.T) {
	err := NewError("flush").Cause(errors.New("disk full")).Err()
	want := "flush: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError("flush").Cause(cause).Err()
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through CoreError to its Cause")
	}
}

func TestCoreErrorIsMatchesWrappedSentinel(t *testing.T) {
	err := NewError("commit").Cause(ErrConflict).Err()
	if !errors.Is(err, ErrConflict) {
		t.Error("CoreError wrapping ErrConflict should satisfy errors.Is(err, ErrConflict)")
	}
	if errors.Is(err, ErrBusy) {
		t.Error("CoreError wrapping ErrConflict should not match an unrelated sentinel")
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(ErrConflict) {
		t.Error("IsConflict(ErrConflict) should be true")
	}
	if IsConflict(ErrBusy) {
		t.Error("IsConflict(ErrBusy) should be false")
	}
	wrapped := NewError("commit").Cause(ErrConflict).Err()
	if !IsConflict(wrapped) {
		t.Error("IsConflict should see through a wrapping CoreError")
	}
}

func TestIsBusy(t *testing.T) {
	if !IsBusy(ErrBusy) {
		t.Error("IsBusy(ErrBusy) should be true")
	}
	if IsBusy(ErrConflict) {
		t.Error("IsBusy(ErrConflict) should be false")
	}
}

func TestAlreadyExistsErrorMessage(t *testing.T) {
	readable := &AlreadyExistsError{IsReadable: true}
	notReadable := &AlreadyExistsError{IsReadable: false}
	if readable.Error() == notReadable.Error() {
		t.Error("readable and not-yet-readable variants should have distinct messages")
	}
}
