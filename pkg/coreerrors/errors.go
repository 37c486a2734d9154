// Package coreerrors defines the error taxonomy shared by the storage core:
// sentinel control-flow signals (Conflict, Busy, Terminating, ...) and a
// structured CoreError for I/O and deserialization failures.
package coreerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is. These are control-flow signals,
// not necessarily failures: Conflict and Busy are expected outcomes of a
// correctly functioning system under contention.
var (
	ErrConflict           = errors.New("commit conflict detected")
	ErrBusy               = errors.New("secondary-index creation already in progress")
	ErrCreationInProgress = errors.New("secondary index creation already in progress")
	ErrTerminating        = errors.New("database is terminating")
	ErrNotReadable        = errors.New("secondary index is not yet readable")
	ErrUnitNotFound       = errors.New("unit not found")
	ErrCommitInfoCorrupt  = errors.New("commit-info file is unparseable")
)

// AlreadyExistsError reports that a secondary index with the given
// specification already exists, and whether it is currently readable.
type AlreadyExistsError struct {
	IsReadable bool
}

func (e *AlreadyExistsError) Error() string {
	if e.IsReadable {
		return "secondary index already exists and is readable"
	}
	return "secondary index already exists and is not yet readable"
}

// CoreError is the structured error type for I/O and deserialization
// failures that carry enough context for an operator to locate the
// offending unit on disk.
type CoreError struct {
	Op    string // operation that failed, e.g. "load", "commit", "flush"
	Unit  string // unit directory name, if applicable
	CV    uint64 // commit version involved, if applicable
	Cause error
}

func (e *CoreError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s unit %s (cv %d): %v", e.Op, e.Unit, e.CV, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

func (e *CoreError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building CoreErrors, the
// same shape as the teacher's StorageError/ErrorBuilder pair.
type ErrorBuilder struct {
	err CoreError
}

func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: CoreError{Op: op}}
}

func (b *ErrorBuilder) Unit(name string) *ErrorBuilder {
	b.err.Unit = name
	return b
}

func (b *ErrorBuilder) AtCV(cv uint64) *ErrorBuilder {
	b.err.CV = cv
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

func (b *ErrorBuilder) Build() *CoreError {
	return &b.err
}

func (b *ErrorBuilder) Err() error {
	return &b.err
}

// IsConflict reports whether err is (or wraps) a commit conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBusy reports whether err is (or wraps) an SI-creation busy signal.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
