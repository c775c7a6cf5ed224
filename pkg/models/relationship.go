package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityRelationship is a typed, directed edge between two entities. Traversal
// and graph analytics treat edges as undirected unless a direction matters to
// the caller.
type EntityRelationship struct {
	ID           uuid.UUID `json:"id"`
	SourceID     uuid.UUID `json:"source_id"`
	TargetID     uuid.UUID `json:"target_id"`
	RelationType string    `json:"relationship_type"`
	Metadata     Content   `json:"metadata,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// TraversalPath is one path produced by bounded graph traversal, in visit
// order starting from the traversal root.
type TraversalPath struct {
	EntityIDs []uuid.UUID `json:"entity_ids"`
	RelTypes  []string    `json:"relationship_types"` // len = len(EntityIDs) - 1
	Depth     int         `json:"depth"`
}
