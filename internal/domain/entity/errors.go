package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
// Every typed error below matches exactly one of these through errors.Is.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrUpstream indicates that the embedding upstream failed and no cached value could stand in
	ErrUpstream = errors.New("embedding upstream unavailable")

	// ErrConsistency indicates that index, binding and metadata store disagree
	ErrConsistency = errors.New("consistency fault")

	// ErrStore indicates an I/O failure in the metadata store or index persistence
	ErrStore = errors.New("store failure")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is reports ErrValidationFailed and ErrInvalidInput as matches.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed || target == ErrInvalidInput
}

// InvalidInputError is returned when caller-supplied input violates an input policy:
// empty text, over-length text under the reject policy, a bad top_k, or a query vector
// that cannot be searched.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid input on '%s': %s", e.Field, e.Message)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// UpstreamError wraps a failure of the embedding service (timeout, 5xx, circuit open).
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s failed", e.Op)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
func (e *UpstreamError) Unwrap() error        { return e.Err }

// NotFoundError reports a missing article id in the metadata store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("article %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConsistencyFault kinds.
const (
	FaultUnboundPosition = "unbound_position"
	FaultMissingMetadata = "missing_metadata"
	FaultUnindexedRecord = "unindexed_record"
)

// ConsistencyFault describes one disagreement between the vector index, the
// position binding and the metadata store. Faults are reported, never repaired inline.
type ConsistencyFault struct {
	Kind      string
	Position  int64
	ArticleID string
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault %s (position=%d, article=%q)", e.Kind, e.Position, e.ArticleID)
}

func (e *ConsistencyFault) Is(target error) bool { return target == ErrConsistency }

// StoreError wraps an I/O failure of the metadata store or of index persistence.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s failed", e.Op)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStore }
func (e *StoreError) Unwrap() error        { return e.Err }

// Status strings returned by Kind.
const (
	KindOK           = "ok"
	KindInvalidInput = "invalid_input"
	KindNotFound     = "not_found"
	KindUpstream     = "upstream_error"
	KindConsistency  = "consistency_fault"
	KindStore        = "store_error"
	KindInternal     = "internal_error"
)

// Kind maps an error to the status string exposed to callers of the query interface.
// A nil error maps to KindOK.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrStore):
		return KindStore
	default:
		return KindInternal
	}
}
