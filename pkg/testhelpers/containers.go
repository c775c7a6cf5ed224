// Package testhelpers provides shared infrastructure for integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/database"
)

// PostgresImage is the stock image integration tests run against; migrations
// bring the schema up from empty.
const PostgresImage = "postgres:16-alpine"

// SubstrateDB holds a shared test database container with migrations applied.
// Use this for testing services and repositories against a real database.
type SubstrateDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedDB     *SubstrateDB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

// GetSubstrateDB returns a shared migrated database for integration tests.
// The container is created once and reused across all tests in the run.
func GetSubstrateDB(t *testing.T) *SubstrateDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = setupSubstrateDB()
	})

	if sharedDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedDBErr)
	}

	return sharedDB
}

func setupSubstrateDB() (*SubstrateDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "strata_test",
			"POSTGRES_USER":     "strata",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://strata:test_password@%s:%s/strata_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// Migrations run over database/sql (required by golang-migrate).
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SubstrateDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// migrationsDir locates the migrations directory relative to this source
// file, so tests work regardless of the package they run from.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// TruncateAll clears substrate tables between tests and reseeds sync cursors.
func TruncateAll(t *testing.T, db *database.DB) {
	t.Helper()

	ctx := context.Background()
	_, err := db.Exec(ctx, `
		TRUNCATE substrate_conflicts, substrate_snapshots, substrate_provenance,
			substrate_relationships, substrate_entities CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	_, err = db.Exec(ctx, `
		UPDATE substrate_sync_cursors
		SET last_version = 0, last_timestamp = 'epoch', checksum = ''`)
	if err != nil {
		t.Fatalf("failed to reset sync cursors: %v", err)
	}
}
