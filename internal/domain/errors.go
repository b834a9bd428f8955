package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrCollectionNotFound signals an absent target collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrProviderTransient signals a retryable embedding or store failure
	// (timeout, rate limit, 5xx).
	ErrProviderTransient = errors.New("transient provider error")
	// ErrProviderFatal signals a non-retryable provider failure.
	ErrProviderFatal = errors.New("provider error")
	// ErrConsistency signals a malformed or unreadable stored entry
	// discovered during update diffing.
	ErrConsistency = errors.New("inconsistent stored entry")
	// ErrBatchTooLarge signals that a store call exceeded the backend's
	// per-call batch ceiling.
	ErrBatchTooLarge = errors.New("batch size exceeds store limit")
	// ErrConfig signals a missing or invalid configuration option.
	ErrConfig = errors.New("invalid configuration")
)

// BatchError reports a failed unit of work together with the record ids it
// covered, so a partial build never fails silently.
type BatchError struct {
	Op         string
	Collection string
	IDs        []string
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s collection %q (ids: %s): %v",
		e.Op, e.Collection, strings.Join(e.IDs, ","), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// NewBatchError wraps err with the operation, collection, and affected ids.
func NewBatchError(op, collection string, ids []string, err error) error {
	return &BatchError{Op: op, Collection: collection, IDs: ids, Err: err}
}
