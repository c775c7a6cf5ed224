package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/models"
)

const entityColumns = `id, external_id, entity_type, content, version, change_seq,
	embedding, metadata, properties, archived_at, created_by, updated_by,
	created_at, updated_at`

// EntityFilter narrows entity list reads.
type EntityFilter struct {
	EntityType      string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// EntityRepository provides data access for knowledge entities.
type EntityRepository interface {
	// Insert writes a brand-new entity at version 1.
	Insert(ctx context.Context, q database.Querier, e *models.KnowledgeEntity) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntity, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.KnowledgeEntity, error)
	List(ctx context.Context, filter EntityFilter) ([]*models.KnowledgeEntity, error)

	// UpdateVersioned is the compare-and-swap mutation: it applies the new
	// state only where the stored version still equals expectedVersion.
	// Returns apperrors.ErrVersionConflict when the row moved underneath the
	// caller.
	UpdateVersioned(ctx context.Context, q database.Querier, e *models.KnowledgeEntity, expectedVersion int) error

	// MergeProperties merges derived analytics values into the properties
	// column. Idempotent and version-neutral: derived properties are not part
	// of the conflict-resolved content.
	MergeProperties(ctx context.Context, id uuid.UUID, props models.Content) error

	// ListWithEmbeddings returns live entities carrying an embedding vector.
	ListWithEmbeddings(ctx context.Context) ([]*models.KnowledgeEntity, error)

	// ListLive returns all non-archived entities.
	ListLive(ctx context.Context) ([]*models.KnowledgeEntity, error)

	// ChangedSince pages through mutations in commit order for the sync
	// reconciler.
	ChangedSince(ctx context.Context, changeSeq int64, limit int) ([]*models.KnowledgeEntity, error)
}

type entityRepository struct {
	db *database.DB
}

// NewEntityRepository creates a new EntityRepository backed by the given pool.
func NewEntityRepository(db *database.DB) EntityRepository {
	return &entityRepository{db: db}
}

var _ EntityRepository = (*entityRepository)(nil)

// Optional content maps arrive nil when the caller omits them, and pgx binds
// a nil map as SQL NULL rather than '{}'; the jsonb columns are NOT NULL, so
// the queries coalesce.
func (r *entityRepository) Insert(ctx context.Context, q database.Querier, e *models.KnowledgeEntity) error {
	query := `
		INSERT INTO substrate_entities (
			id, external_id, entity_type, content, version,
			embedding, metadata, properties, created_by, updated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), $5, $6,
			COALESCE($7, '{}'::jsonb), COALESCE($8, '{}'::jsonb), $9, $10, $11, $12)
		RETURNING change_seq`

	err := q.QueryRow(ctx, query,
		e.ID, e.ExternalID, e.EntityType, e.Content, e.Version,
		e.Embedding, e.Metadata, e.Properties, e.CreatedBy, e.UpdatedBy,
		e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ChangeSeq)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateExternalID
		}
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM substrate_entities WHERE id = $1`

	e, err := scanEntity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *entityRepository) GetByExternalID(ctx context.Context, externalID string) (*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM substrate_entities WHERE external_id = $1`

	e, err := scanEntity(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *entityRepository) List(ctx context.Context, filter EntityFilter) ([]*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM substrate_entities WHERE 1=1`
	args := []any{}

	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if !filter.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryEntities(ctx, query, args...)
}

func (r *entityRepository) UpdateVersioned(ctx context.Context, q database.Querier, e *models.KnowledgeEntity, expectedVersion int) error {
	query := `
		UPDATE substrate_entities SET
			content = COALESCE($1, '{}'::jsonb),
			version = $2,
			change_seq = nextval('substrate_entity_change_seq'),
			embedding = $3,
			metadata = COALESCE($4, '{}'::jsonb),
			archived_at = $5,
			updated_by = $6,
			updated_at = $7
		WHERE id = $8 AND version = $9
		RETURNING change_seq`

	err := q.QueryRow(ctx, query,
		e.Content, e.Version, e.Embedding, e.Metadata,
		e.ArchivedAt, e.UpdatedBy, e.UpdatedAt,
		e.ID, expectedVersion,
	).Scan(&e.ChangeSeq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row either moved past expectedVersion or does not exist;
			// the service reads before writing, so a missing row here means
			// a lost race, not an unknown id.
			return apperrors.ErrVersionConflict
		}
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return nil
}

func (r *entityRepository) MergeProperties(ctx context.Context, id uuid.UUID, props models.Content) error {
	query := `
		UPDATE substrate_entities
		SET properties = properties || COALESCE($1, '{}'::jsonb)
		WHERE id = $2`

	result, err := r.db.Exec(ctx, query, props, id)
	if err != nil {
		return fmt.Errorf("failed to merge entity properties: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *entityRepository) ListWithEmbeddings(ctx context.Context) ([]*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + `
		FROM substrate_entities
		WHERE archived_at IS NULL AND embedding IS NOT NULL`

	return r.queryEntities(ctx, query)
}

func (r *entityRepository) ListLive(ctx context.Context) ([]*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + `
		FROM substrate_entities
		WHERE archived_at IS NULL`

	return r.queryEntities(ctx, query)
}

func (r *entityRepository) ChangedSince(ctx context.Context, changeSeq int64, limit int) ([]*models.KnowledgeEntity, error) {
	query := `SELECT ` + entityColumns + `
		FROM substrate_entities
		WHERE change_seq > $1
		ORDER BY change_seq
		LIMIT $2`

	return r.queryEntities(ctx, query, changeSeq, limit)
}

func (r *entityRepository) queryEntities(ctx context.Context, query string, args ...any) ([]*models.KnowledgeEntity, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*models.KnowledgeEntity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func scanEntity(row pgx.Row) (*models.KnowledgeEntity, error) {
	var e models.KnowledgeEntity

	err := row.Scan(
		&e.ID, &e.ExternalID, &e.EntityType, &e.Content, &e.Version, &e.ChangeSeq,
		&e.Embedding, &e.Metadata, &e.Properties, &e.ArchivedAt,
		&e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	return &e, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
