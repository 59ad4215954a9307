// Package testutil starts the containers the integration tests run against:
// a pgvector-enabled Postgres for the cache and retrieval log backends, and
// a RustFS instance standing in for S3.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage    = "pgvector/pgvector:0.8.1-pg18"
	pgDatabase = "logseer"
	pgUser     = "logseer"
	pgPassword = "logseer"

	rustfsImage = "rustfs/rustfs:latest"

	// RustFS credentials shared with the S3 integration tests.
	RustFSAccessKey = "rustfsadmin"
	RustFSSecretKey = "rustfsadmin"
)

// start launches a container and fails the test when it cannot come up.
func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

// PostgresContainer is a started pgvector Postgres.
type PostgresContainer struct {
	Container testcontainers.Container
	url       string
}

// NewPostgresContainer starts Postgres with the pgvector extension baked in.
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()
	c := start(ctx, t, testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	return &PostgresContainer{
		Container: c,
		url: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			pgUser, pgPassword, host, port.Port(), pgDatabase),
	}
}

// ConnectionString returns the database URL of the container.
func (pc *PostgresContainer) ConnectionString() string { return pc.url }

// Terminate stops and removes the container.
func (pc *PostgresContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(pc.Container)
}

// RustFSContainer is a started RustFS instance.
type RustFSContainer struct {
	Container testcontainers.Container
	endpoint  string
}

// NewRustFSContainer starts RustFS with the shared test credentials.
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	t.Helper()
	c := start(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSAccessKey,
			"RUSTFS_SECRET_KEY": RustFSSecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	return &RustFSContainer{
		Container: c,
		endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
}

// Endpoint returns the S3-compatible endpoint URL.
func (rc *RustFSContainer) Endpoint() string { return rc.endpoint }

// Terminate stops and removes the container.
func (rc *RustFSContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// NewTestPool connects to the container with retries, then applies all up
// migrations so each test starts from the current schema.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()

	var (
		pool *pgxpool.Pool
		err  error
	)
	deadline := time.Now().Add(15 * time.Second)
	for {
		pool, err = pgxpool.New(ctx, pc.ConnectionString())
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		if time.Now().After(deadline) {
			t.Fatalf("connect to test database: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := applyMigrations(ctx, pool, migrationsDir); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sql, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(file), err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

// TruncateAll clears every table between tests.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE TABLE embedding_cache, retrieval_logs CASCADE")
	return err
}
