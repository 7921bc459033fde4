package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all TokenStore implementations.
var (
	// ErrAlreadyExists is returned by Create when the id is occupied.
	ErrAlreadyExists = errors.New("token already exists")

	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("token not found")

	// ErrPredicateFailed is returned by ConditionalUpdate when the
	// predicate evaluated to false. The record is left untouched.
	ErrPredicateFailed = errors.New("predicate failed")

	// ErrCorruptRecord marks a stored record that cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt token record")
)

// StateFilter narrows ScanExpired to records in a particular state.
type StateFilter int

const (
	AnyState StateFilter = iota
	OnlyPending
	OnlyClaimed
)

// TokenStore is the backend-agnostic contract over token records. Every
// implementation must provide the same atomicity guarantees: Create is
// create-if-absent, and ConditionalUpdate is a true atomic
// read-predicate-write (transaction or compare-and-set), never a separate
// read followed by a separate write. All implementations must pass the
// shared conformance suite.
type TokenStore interface {
	// Create writes a new record, failing with ErrAlreadyExists if the
	// id is occupied. Atomic with respect to concurrent Create calls on
	// the same id.
	Create(ctx context.Context, token Token) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Token, error)

	// ConditionalUpdate atomically evaluates predicate over the current
	// record and, if it holds, applies mutate and commits. Returns
	// ErrNotFound if the record is absent and ErrPredicateFailed if the
	// predicate rejects; in both cases the store is unchanged.
	ConditionalUpdate(ctx context.Context, id string, predicate func(Token) bool, mutate func(*Token)) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// ScanExpired returns the ids of records whose expiry is at or
	// before the given instant, optionally narrowed by state.
	ScanExpired(ctx context.Context, before time.Time, filter StateFilter) ([]string, error)

	// BatchDelete removes the given ids, best effort. It returns how
	// many records were deleted; a partial failure is reported through
	// the error alongside the count, never silently swallowed.
	BatchDelete(ctx context.Context, ids []string) (int, error)

	// Close releases backend resources.
	Close() error
}
