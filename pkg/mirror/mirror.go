// Package mirror defines row-level access to the relational mirror the sync
// reconciler keeps consistent with the substrate.
package mirror

import (
	"context"
	"time"

	"github.com/strataforge/strata-engine/pkg/models"
)

// Row is the mirror-side projection of a knowledge entity, keyed by external id.
type Row struct {
	ExternalID  string
	EntityType  string
	Content     models.Content
	ContentHash string
	Version     int
	UpdatedAt   time.Time
}

// Mirror is row-level read/write access keyed by external_id. Implementations
// exist for PostgreSQL and MSSQL; tests use an in-memory fake.
type Mirror interface {
	// Upsert writes the row unless the mirror already holds an equal-or-higher
	// version for that external id (no downgrade). Returns true when the row
	// was written.
	Upsert(ctx context.Context, row *Row) (bool, error)

	// Get returns the mirror row for an external id, or nil when absent.
	Get(ctx context.Context, externalID string) (*Row, error)

	// ChangedSince returns mirror rows updated at or after the given time,
	// oldest first, capped at limit. The bound is inclusive so a row stamped
	// exactly at the cursor is never skipped; callers dedup re-reads by
	// content hash.
	ChangedSince(ctx context.Context, since time.Time, limit int) ([]*Row, error)

	Close() error
}
