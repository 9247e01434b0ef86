package roadnet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Match them with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrDuplicateVersion       = errors.New("duplicate version")
	ErrNetworkNotFound        = errors.New("network not found")
	ErrNoEdgesAtInstant       = errors.New("no edges at instant")
	ErrInvalidCandidateEdge   = errors.New("invalid candidate edge")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrStorageFailure         = errors.New("storage failure")

	ErrNetworkExists   = errors.New("network already exists")
	ErrCustomerExists  = errors.New("customer already exists")
	ErrNameMismatch    = errors.New("network name mismatch")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidRequest  = errors.New("invalid request")
)

// Error carries the structured context of a failed core operation. The
// boundary decides how to present it.
type Error struct {
	Op         string     // Operation that failed (e.g. "reconcile", "query")
	Kind       error      // One of the Err* kinds above
	CustomerID int64      // Zero if not applicable
	NetworkID  int64      // Zero if not applicable
	Network    string     // Network name
	Version    string     // Version label
	Instant    *time.Time // Queried instant
	Index      int        // Candidate index, -1 if not applicable
	Detail     string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())

	var ctx []string
	if e.CustomerID != 0 {
		ctx = append(ctx, fmt.Sprintf("customer=%d", e.CustomerID))
	}
	if e.NetworkID != 0 {
		ctx = append(ctx, fmt.Sprintf("network_id=%d", e.NetworkID))
	}
	if e.Network != "" {
		ctx = append(ctx, "network="+e.Network)
	}
	if e.Version != "" {
		ctx = append(ctx, "version="+e.Version)
	}
	if e.Instant != nil {
		ctx = append(ctx, "instant="+e.Instant.UTC().Format(time.RFC3339Nano))
	}
	if e.Index >= 0 {
		ctx = append(ctx, fmt.Sprintf("candidate=%d", e.Index))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ErrorBuilder provides a fluent interface for building Errors.
type ErrorBuilder struct {
	err Error
}

// NewError starts an error of the given kind for operation op.
func NewError(op string, kind error) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op, Kind: kind, Index: -1}}
}

func (b *ErrorBuilder) Customer(id int64) *ErrorBuilder {
	b.err.CustomerID = id
	return b
}

func (b *ErrorBuilder) NetworkID(id int64) *ErrorBuilder {
	b.err.NetworkID = id
	return b
}

func (b *ErrorBuilder) Network(name string) *ErrorBuilder {
	b.err.Network = name
	return b
}

func (b *ErrorBuilder) Version(label string) *ErrorBuilder {
	b.err.Version = label
	return b
}

func (b *ErrorBuilder) Instant(t *time.Time) *ErrorBuilder {
	if t != nil {
		at := *t
		b.err.Instant = &at
	}
	return b
}

func (b *ErrorBuilder) Candidate(index int) *ErrorBuilder {
	b.err.Index = index
	return b
}

func (b *ErrorBuilder) Detail(format string, args ...any) *ErrorBuilder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	e := b.err
	return &e
}

// IsRetryable reports whether the caller may retry the operation as is.
// Only lock contention and concurrent updates are retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrReconciliationConflict)
}

// StorageError wraps an unexpected storage error so that it matches
// ErrStorageFailure. Errors that already carry a kind are returned as is.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return NewError(op, ErrStorageFailure).Cause(err).Err()
}

// Classified reports whether err already matches one of the error kinds.
func Classified(err error) bool {
	for _, kind := range []error{
		ErrUnauthorized, ErrDuplicateVersion, ErrNetworkNotFound, ErrNoEdgesAtInstant,
		ErrInvalidCandidateEdge, ErrReconciliationConflict, ErrStorageFailure,
		ErrNetworkExists, ErrCustomerExists, ErrNameMismatch, ErrInvalidFilename,
		ErrInvalidRequest,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
