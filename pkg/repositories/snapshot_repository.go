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

// SnapshotRepository provides data access for the per-entity snapshot chain.
type SnapshotRepository interface {
	// Insert appends one pre-image. Always called inside the same transaction
	// as the mutation it precedes; the UNIQUE (entity_id, version) constraint
	// backs the CAS loser out in the rare case both writers get this far.
	Insert(ctx context.Context, q database.Querier, s *models.KnowledgeSnapshot) error

	// ListByEntity returns snapshots for an entity ordered oldest first,
	// capped at maxVersion when maxVersion > 0.
	ListByEntity(ctx context.Context, entityID uuid.UUID, maxVersion int) ([]*models.KnowledgeSnapshot, error)

	// GetByVersion returns the snapshot preserving the given pre-mutation version.
	GetByVersion(ctx context.Context, entityID uuid.UUID, version int) (*models.KnowledgeSnapshot, error)
}

type snapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *database.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

var _ SnapshotRepository = (*snapshotRepository)(nil)

func (r *snapshotRepository) Insert(ctx context.Context, q database.Querier, s *models.KnowledgeSnapshot) error {
	query := `
		INSERT INTO substrate_snapshots (id, entity_id, version, content, created_at)
		VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), $5)`

	_, err := q.Exec(ctx, query, s.ID, s.EntityID, s.Version, s.Content, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrVersionConflict
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

func (r *snapshotRepository) ListByEntity(ctx context.Context, entityID uuid.UUID, maxVersion int) ([]*models.KnowledgeSnapshot, error) {
	query := `
		SELECT id, entity_id, version, content, created_at
		FROM substrate_snapshots
		WHERE entity_id = $1`
	args := []any{entityID}

	if maxVersion > 0 {
		args = append(args, maxVersion)
		query += fmt.Sprintf(" AND version <= $%d", len(args))
	}
	query += " ORDER BY version"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.KnowledgeSnapshot, 0)
	for rows.Next() {
		var s models.KnowledgeSnapshot
		if err := rows.Scan(&s.ID, &s.EntityID, &s.Version, &s.Content, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

func (r *snapshotRepository) GetByVersion(ctx context.Context, entityID uuid.UUID, version int) (*models.KnowledgeSnapshot, error) {
	query := `
		SELECT id, entity_id, version, content, created_at
		FROM substrate_snapshots
		WHERE entity_id = $1 AND version = $2`

	var s models.KnowledgeSnapshot
	err := r.db.QueryRow(ctx, query, entityID, version).
		Scan(&s.ID, &s.EntityID, &s.Version, &s.Content, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return &s, nil
}
