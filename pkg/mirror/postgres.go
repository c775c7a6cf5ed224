package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strataforge/strata-engine/pkg/config"
)

// PostgresMirror accesses a PostgreSQL mirror table.
type PostgresMirror struct {
	pool  *pgxpool.Pool
	table string
}

// buildPostgresURL builds a PostgreSQL URL with proper escaping.
// User-provided fields are URL-escaped to handle special characters in
// passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
func buildPostgresURL(cfg *config.MirrorConfig) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
	)
}

// NewPostgresMirror connects to the mirror database and verifies the connection.
func NewPostgresMirror(ctx context.Context, cfg *config.MirrorConfig) (*PostgresMirror, error) {
	pool, err := pgxpool.New(ctx, buildPostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres mirror: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres mirror: %w", err)
	}

	return &PostgresMirror{pool: pool, table: cfg.Table}, nil
}

var _ Mirror = (*PostgresMirror)(nil)

func (m *PostgresMirror) Upsert(ctx context.Context, row *Row) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (external_id, entity_type, content, content_hash, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE %s.version < EXCLUDED.version`, m.table, m.table)

	result, err := m.pool.Exec(ctx, query,
		row.ExternalID, row.EntityType, row.Content, row.ContentHash,
		row.Version, row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert mirror row: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (m *PostgresMirror) Get(ctx context.Context, externalID string) (*Row, error) {
	query := fmt.Sprintf(`
		SELECT external_id, entity_type, content, content_hash, version, updated_at
		FROM %s WHERE external_id = $1`, m.table)

	var r Row
	err := m.pool.QueryRow(ctx, query, externalID).
		Scan(&r.ExternalID, &r.EntityType, &r.Content, &r.ContentHash, &r.Version, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mirror row: %w", err)
	}

	return &r, nil
}

func (m *PostgresMirror) ChangedSince(ctx context.Context, since time.Time, limit int) ([]*Row, error) {
	query := fmt.Sprintf(`
		SELECT external_id, entity_type, content, content_hash, version, updated_at
		FROM %s
		WHERE updated_at >= $1
		ORDER BY updated_at
		LIMIT $2`, m.table)

	rows, err := m.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror changes: %w", err)
	}
	defer rows.Close()

	out := make([]*Row, 0)
	for rows.Next() {
		var r Row
		err := rows.Scan(&r.ExternalID, &r.EntityType, &r.Content, &r.ContentHash, &r.Version, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror rows: %w", err)
	}

	return out, nil
}

func (m *PostgresMirror) Close() error {
	m.pool.Close()
	return nil
}
