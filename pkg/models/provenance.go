package models

import (
	"time"

	"github.com/google/uuid"
)

// Provenance action constants. Each accepted mutation appends exactly one
// provenance record carrying one of these actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionArchive = "archive"
	ActionSync    = "sync"
)

// Provenance source constants. Sync-applied changes carry SourceMirror so the
// audit trail distinguishes live writes from reconciliation.
const (
	SourceAPI    = "api"
	SourceMirror = "mirror"
	SourceSystem = "system"
)

// Provenance is an immutable evidence record for one accepted mutation.
// Never updated or deleted while the entity is live.
type Provenance struct {
	ID       uuid.UUID `json:"id"`
	EntityID uuid.UUID `json:"entity_id"`
	Action   string    `json:"action"`
	Source   string    `json:"source"`
	Evidence string    `json:"evidence"`
	Actor    string    `json:"actor"`
	Metadata Content   `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EvolutionEventKind tags entries of a temporal evolution trail.
type EvolutionEventKind string

const (
	EventProvenance EvolutionEventKind = "provenance"
	EventSnapshot   EvolutionEventKind = "snapshot"
)

// EvolutionEvent is one entry in the merged provenance+snapshot audit trail
// for an entity, ordered by timestamp.
type EvolutionEvent struct {
	Kind      EvolutionEventKind `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`

	// Set when Kind == EventProvenance.
	Provenance *Provenance `json:"provenance,omitempty"`

	// Set when Kind == EventSnapshot.
	Snapshot *KnowledgeSnapshot `json:"snapshot,omitempty"`
}
