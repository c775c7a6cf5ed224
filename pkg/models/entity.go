// Package models contains domain types for strata-engine.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Content is the field map of a knowledge entity. Conflict resolution and
// snapshot replay operate field-by-field over this map.
type Content map[string]any

// Clone returns a shallow copy of the content map.
func (c Content) Clone() Content {
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Hash returns the canonical SHA-256 of the content. encoding/json sorts map
// keys, so equal maps always hash equally. Used as the sync dedup key.
func (c Content) Hash() string {
	b, err := json.Marshal(c)
	if err != nil {
		// Content maps come from jsonb columns and JSON request bodies, so
		// they are always marshalable; an empty hash would silently defeat
		// dedup, so fail loudly.
		panic("models: unmarshalable content: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// KnowledgeEntity is a versioned fact record. Mutations go through the entity
// service only; version advances by exactly 1 per accepted mutation.
type KnowledgeEntity struct {
	ID         uuid.UUID `json:"id"`
	ExternalID *string   `json:"external_id,omitempty"` // Unique key shared with the relational mirror
	EntityType string    `json:"entity_type"`
	Content    Content   `json:"content"`
	Version    int       `json:"version"` // Starts at 1, no gaps

	// ChangeSeq is a store-wide monotonic sequence value taken on every
	// accepted mutation. The sync reconciler pages through changes by it.
	ChangeSeq int64 `json:"change_seq"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Metadata   Content   `json:"metadata,omitempty"`

	// Properties holds derived analytics values (centrality score, community
	// id). Best-effort and idempotently recomputable; never part of the
	// conflict-resolved content.
	Properties Content `json:"properties,omitempty"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"` // Soft delete; excluded from default retrieval

	CreatedBy string `json:"created_by"`
	UpdatedBy string `json:"updated_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archived reports whether the entity has been soft-deleted.
func (e *KnowledgeEntity) Archived() bool {
	return e.ArchivedAt != nil
}

// UpdateStrategy selects how concurrent divergence is handled on update.
type UpdateStrategy string

const (
	StrategyMerge      UpdateStrategy = "merge"       // Apply unchanged fields, record conflicts for changed ones
	StrategyLatestWins UpdateStrategy = "latest_wins" // Apply everything unconditionally
	StrategyFirstWins  UpdateStrategy = "first_wins"  // Apply only fields currently unset
	StrategyStrict     UpdateStrategy = "strict"      // Abort on any divergence
)

// IsValid returns true if the strategy is one of the supported modes.
func (s UpdateStrategy) IsValid() bool {
	switch s {
	case StrategyMerge, StrategyLatestWins, StrategyFirstWins, StrategyStrict:
		return true
	default:
		return false
	}
}
