package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/models"
)

// RelationshipRepository provides data access for entity relationships.
type RelationshipRepository interface {
	Create(ctx context.Context, rel *models.EntityRelationship) error
	Delete(ctx context.Context, sourceID, targetID uuid.UUID, relType string) error

	// ListBySource returns outgoing and incoming edges touching the entity,
	// optionally filtered by relationship types.
	ListByEntity(ctx context.Context, entityID uuid.UUID, relTypes []string) ([]*models.EntityRelationship, error)

	// ListAll returns every edge between live entities, optionally filtered
	// by relationship type. Graph analytics builds its adjacency from this.
	ListAll(ctx context.Context, relType string) ([]*models.EntityRelationship, error)
}

type relationshipRepository struct {
	db *database.DB
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(db *database.DB) RelationshipRepository {
	return &relationshipRepository{db: db}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

func (r *relationshipRepository) Create(ctx context.Context, rel *models.EntityRelationship) error {
	query := `
		INSERT INTO substrate_relationships (
			id, source_id, target_id, relationship_type, metadata, created_by, created_at
		) VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb), $6, $7)
		ON CONFLICT (source_id, target_id, relationship_type) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		rel.ID, rel.SourceID, rel.TargetID, rel.RelationType,
		rel.Metadata, rel.CreatedBy, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}

	return nil
}

func (r *relationshipRepository) Delete(ctx context.Context, sourceID, targetID uuid.UUID, relType string) error {
	query := `
		DELETE FROM substrate_relationships
		WHERE source_id = $1 AND target_id = $2 AND relationship_type = $3`

	result, err := r.db.Exec(ctx, query, sourceID, targetID, relType)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *relationshipRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, relTypes []string) ([]*models.EntityRelationship, error) {
	query := `
		SELECT id, source_id, target_id, relationship_type, metadata, created_by, created_at
		FROM substrate_relationships
		WHERE (source_id = $1 OR target_id = $1)`
	args := []any{entityID}

	if len(relTypes) > 0 {
		args = append(args, relTypes)
		query += fmt.Sprintf(" AND relationship_type = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at"

	return r.queryRelationships(ctx, query, args...)
}

func (r *relationshipRepository) ListAll(ctx context.Context, relType string) ([]*models.EntityRelationship, error) {
	query := `
		SELECT r.id, r.source_id, r.target_id, r.relationship_type, r.metadata, r.created_by, r.created_at
		FROM substrate_relationships r
		JOIN substrate_entities s ON s.id = r.source_id AND s.archived_at IS NULL
		JOIN substrate_entities t ON t.id = r.target_id AND t.archived_at IS NULL`
	args := []any{}

	if relType != "" {
		args = append(args, relType)
		query += fmt.Sprintf(" WHERE r.relationship_type = $%d", len(args))
	}

	return r.queryRelationships(ctx, query, args...)
}

func (r *relationshipRepository) queryRelationships(ctx context.Context, query string, args ...any) ([]*models.EntityRelationship, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	rels := make([]*models.EntityRelationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}

	return rels, nil
}

func scanRelationship(row pgx.Row) (*models.EntityRelationship, error) {
	var rel models.EntityRelationship

	err := row.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &rel.RelationType,
		&rel.Metadata, &rel.CreatedBy, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}

	return &rel, nil
}
