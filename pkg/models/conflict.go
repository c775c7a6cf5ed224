package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictStatus is the lifecycle state of a detected divergence.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "open"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictDismissed ConflictStatus = "dismissed"
)

// IsTerminal returns true once a conflict has been acted on by an operator.
func (s ConflictStatus) IsTerminal() bool {
	return s == ConflictResolved || s == ConflictDismissed
}

// Conflict records a field whose proposed value lost a merge against a
// concurrently changed current value. Both competing values are retained so
// an operator can resolve the divergence explicitly; resolution never happens
// implicitly inside an update.
type Conflict struct {
	ID       uuid.UUID `json:"id"`
	EntityID uuid.UUID `json:"entity_id"`
	Field    string    `json:"field"`

	ProposedValue any `json:"proposed_value"`
	CurrentValue  any `json:"current_value"`

	// RaisedAtVersion is the entity version current when the conflict was
	// detected. An open conflict always references an entity at or past
	// this version.
	RaisedAtVersion int `json:"raised_at_version"`

	Status         ConflictStatus `json:"status"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	ResolutionNote *string        `json:"resolution_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
