// Package apperrors defines the error taxonomy shared across the substrate.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateExternalID    = errors.New("external id already mapped")
	ErrVersionConflict        = errors.New("version conflict: refetch and retry")
	ErrGraphEngineUnavailable = errors.New("graph engine unavailable")
	ErrSyncInProgress         = errors.New("sync already running in this direction")
	ErrEntityArchived         = errors.New("entity is archived")
)

// FieldConflictError is returned by strict-strategy updates when any proposed
// field diverges from current state. The update has no side effects.
type FieldConflictError struct {
	EntityID string
	Fields   []string
}

func (e *FieldConflictError) Error() string {
	return fmt.Sprintf("strict update rejected for entity %s: divergent fields [%s]",
		e.EntityID, strings.Join(e.Fields, ", "))
}

// DimensionMismatchError is returned when an embedding does not match the
// configured dimension. Vectors are rejected, never truncated.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// SyncItemFailure records one mirror item that failed to apply during a sync pass.
type SyncItemFailure struct {
	ExternalID string
	Err        error
}

// SyncPartialError is returned when a sync pass applied some items and failed
// others. The cursor is left at its pre-batch position so the next pass
// retries the failed items.
type SyncPartialError struct {
	Direction string
	Applied   int
	Failures  []SyncItemFailure
}

func (e *SyncPartialError) Error() string {
	return fmt.Sprintf("sync %s partially failed: %d applied, %d failed",
		e.Direction, e.Applied, len(e.Failures))
}
