package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/models"
)

// ProvenanceRepository provides append and read access to the evidence ledger.
// Rows are immutable: there is no update or delete path while an entity lives.
type ProvenanceRepository interface {
	// Append writes one evidence record. Always called inside the same
	// transaction as the mutation it documents; a failed append rolls the
	// whole mutation back.
	Append(ctx context.Context, q database.Querier, p *models.Provenance) error

	// ListByEntity returns the ledger for one entity, oldest first, bounded
	// by the optional since/until window.
	ListByEntity(ctx context.Context, entityID uuid.UUID, since, until *time.Time) ([]*models.Provenance, error)
}

type provenanceRepository struct {
	db *database.DB
}

// NewProvenanceRepository creates a new ProvenanceRepository.
func NewProvenanceRepository(db *database.DB) ProvenanceRepository {
	return &provenanceRepository{db: db}
}

var _ ProvenanceRepository = (*provenanceRepository)(nil)

func (r *provenanceRepository) Append(ctx context.Context, q database.Querier, p *models.Provenance) error {
	query := `
		INSERT INTO substrate_provenance (
			id, entity_id, action, source, evidence, actor, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'::jsonb), $8)`

	_, err := q.Exec(ctx, query,
		p.ID, p.EntityID, p.Action, p.Source, p.Evidence, p.Actor, p.Metadata, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append provenance: %w", err)
	}

	return nil
}

func (r *provenanceRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, since, until *time.Time) ([]*models.Provenance, error) {
	query := `
		SELECT id, entity_id, action, source, evidence, actor, metadata, created_at
		FROM substrate_provenance
		WHERE entity_id = $1`
	args := []any{entityID}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if until != nil {
		args = append(args, *until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance: %w", err)
	}
	defer rows.Close()

	records := make([]*models.Provenance, 0)
	for rows.Next() {
		var p models.Provenance
		err := rows.Scan(&p.ID, &p.EntityID, &p.Action, &p.Source, &p.Evidence,
			&p.Actor, &p.Metadata, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provenance: %w", err)
		}
		records = append(records, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provenance: %w", err)
	}

	return records, nil
}
