package models

import (
	"time"

	"github.com/google/uuid"
)

// KnowledgeSnapshot is the pre-image of an entity captured immediately before
// an accepted mutation. Snapshots for an entity at version N form a
// contiguous chain 1..N-1; replaying them forward reconstructs any
// historical version.
type KnowledgeSnapshot struct {
	ID       uuid.UUID `json:"id"`
	EntityID uuid.UUID `json:"entity_id"`
	Version  int       `json:"version"` // The pre-mutation version this snapshot preserves
	Content  Content   `json:"content"`

	CreatedAt time.Time `json:"created_at"`
}
