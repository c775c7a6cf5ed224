package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/models"
)

// ConflictRepository provides data access for merge conflicts.
type ConflictRepository interface {
	// InsertMany writes the conflicts a merge resolution raised, inside the
	// mutation's transaction.
	InsertMany(ctx context.Context, q database.Querier, conflicts []*models.Conflict) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error)
	ListOpenByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Conflict, error)

	// Transition moves an open conflict to resolved or dismissed. Returns
	// ErrNotFound when the conflict does not exist or is already terminal.
	Transition(ctx context.Context, id uuid.UUID, status models.ConflictStatus, actor, note string, at time.Time) error
}

type conflictRepository struct {
	db *database.DB
}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository(db *database.DB) ConflictRepository {
	return &conflictRepository{db: db}
}

var _ ConflictRepository = (*conflictRepository)(nil)

func (r *conflictRepository) InsertMany(ctx context.Context, q database.Querier, conflicts []*models.Conflict) error {
	query := `
		INSERT INTO substrate_conflicts (
			id, entity_id, field, proposed_value, current_value,
			raised_at_version, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, c := range conflicts {
		_, err := q.Exec(ctx, query,
			c.ID, c.EntityID, c.Field, c.ProposedValue, c.CurrentValue,
			c.RaisedAtVersion, c.Status, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert conflict on field %q: %w", c.Field, err)
		}
	}

	return nil
}

func (r *conflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	query := `
		SELECT id, entity_id, field, proposed_value, current_value,
			raised_at_version, status, resolved_at, resolved_by, resolution_note, created_at
		FROM substrate_conflicts
		WHERE id = $1`

	c, err := scanConflict(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *conflictRepository) ListOpenByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Conflict, error) {
	query := `
		SELECT id, entity_id, field, proposed_value, current_value,
			raised_at_version, status, resolved_at, resolved_by, resolution_note, created_at
		FROM substrate_conflicts
		WHERE entity_id = $1 AND status = 'open'
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]*models.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

func (r *conflictRepository) Transition(ctx context.Context, id uuid.UUID, status models.ConflictStatus, actor, note string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("invalid conflict transition target %q", status)
	}

	query := `
		UPDATE substrate_conflicts
		SET status = $1, resolved_at = $2, resolved_by = $3, resolution_note = $4
		WHERE id = $5 AND status = 'open'`

	result, err := r.db.Exec(ctx, query, status, at, actor, note, id)
	if err != nil {
		return fmt.Errorf("failed to transition conflict: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanConflict(row pgx.Row) (*models.Conflict, error) {
	var c models.Conflict

	err := row.Scan(
		&c.ID, &c.EntityID, &c.Field, &c.ProposedValue, &c.CurrentValue,
		&c.RaisedAtVersion, &c.Status, &c.ResolvedAt, &c.ResolvedBy,
		&c.ResolutionNote, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	return &c, nil
}
