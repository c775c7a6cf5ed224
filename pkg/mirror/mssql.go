package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/strataforge/strata-engine/pkg/config"
	"github.com/strataforge/strata-engine/pkg/models"
)

// MSSQLMirror accesses a SQL Server mirror table. Content is stored as JSON
// in an NVARCHAR(MAX) column.
type MSSQLMirror struct {
	db    *sql.DB
	table string
}

// buildMSSQLURL builds a SQL Server connection URL with proper escaping.
func buildMSSQLURL(cfg *config.MirrorConfig) string {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	q := url.Values{}
	q.Set("database", cfg.Database)
	u.RawQuery = q.Encode()
	return u.String()
}

// NewMSSQLMirror connects to the mirror database and verifies the connection.
func NewMSSQLMirror(ctx context.Context, cfg *config.MirrorConfig) (*MSSQLMirror, error) {
	db, err := sql.Open("sqlserver", buildMSSQLURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mssql mirror: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mssql mirror: %w", err)
	}

	return &MSSQLMirror{db: db, table: cfg.Table}, nil
}

var _ Mirror = (*MSSQLMirror)(nil)

func (m *MSSQLMirror) Upsert(ctx context.Context, row *Row) (bool, error) {
	content, err := json.Marshal(row.Content)
	if err != nil {
		return false, fmt.Errorf("failed to marshal mirror content: %w", err)
	}

	// MERGE with a version guard gives the same no-downgrade semantics as the
	// conditional ON CONFLICT upsert on Postgres.
	query := fmt.Sprintf(`
		MERGE %s AS target
		USING (SELECT @p1 AS external_id) AS source
		ON target.external_id = source.external_id
		WHEN MATCHED AND target.version < @p5 THEN
			UPDATE SET entity_type = @p2, content = @p3, content_hash = @p4,
				version = @p5, updated_at = @p6
		WHEN NOT MATCHED THEN
			INSERT (external_id, entity_type, content, content_hash, version, updated_at)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6);`, m.table)

	result, err := m.db.ExecContext(ctx, query,
		row.ExternalID, row.EntityType, string(content), row.ContentHash,
		row.Version, row.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert mirror row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}

	return affected > 0, nil
}

func (m *MSSQLMirror) Get(ctx context.Context, externalID string) (*Row, error) {
	query := fmt.Sprintf(`
		SELECT external_id, entity_type, content, content_hash, version, updated_at
		FROM %s WHERE external_id = @p1`, m.table)

	r, err := scanMSSQLRow(m.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return r, nil
}

func (m *MSSQLMirror) ChangedSince(ctx context.Context, since time.Time, limit int) ([]*Row, error) {
	query := fmt.Sprintf(`
		SELECT TOP (@p2) external_id, entity_type, content, content_hash, version, updated_at
		FROM %s
		WHERE updated_at >= @p1
		ORDER BY updated_at`, m.table)

	rows, err := m.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror changes: %w", err)
	}
	defer rows.Close()

	out := make([]*Row, 0)
	for rows.Next() {
		var r Row
		var content string
		err := rows.Scan(&r.ExternalID, &r.EntityType, &content, &r.ContentHash, &r.Version, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &r.Content); err != nil {
			return nil, fmt.Errorf("failed to decode mirror content for %s: %w", r.ExternalID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror rows: %w", err)
	}

	return out, nil
}

func (m *MSSQLMirror) Close() error {
	return m.db.Close()
}

func scanMSSQLRow(row *sql.Row) (*Row, error) {
	var r Row
	var content string

	err := row.Scan(&r.ExternalID, &r.EntityType, &content, &r.ContentHash, &r.Version, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mirror row: %w", err)
	}

	r.Content = make(models.Content)
	if err := json.Unmarshal([]byte(content), &r.Content); err != nil {
		return nil, fmt.Errorf("failed to decode mirror content for %s: %w", r.ExternalID, err)
	}

	return &r, nil
}
