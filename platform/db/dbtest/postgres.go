//go:build integration

// Package dbtest starts a throwaway Postgres in docker for integration suites
// and applies the embedded migrations to it.
package dbtest

import (
	"context"
	"fmt"

	"crewcommand_backend/migrations"
	"crewcommand_backend/platform/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
)

// Postgres test database configuration
const (
	PostgresUser     = "crewcommand"
	PostgresPassword = "crewcommand_pwd"
	PostgresDB       = "crewcommand_test"
	PostgresHost     = "localhost"
)

// PostgresDSN returns the data source name for a container on the given port.
func PostgresDSN(port string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		PostgresUser, PostgresPassword, PostgresHost, port, PostgresDB)
}

// PostgresDockerEnv returns the environment of the Postgres container.
func PostgresDockerEnv() []string {
	return []string{
		"POSTGRES_USER=" + PostgresUser,
		"POSTGRES_PASSWORD=" + PostgresPassword,
		"POSTGRES_DB=" + PostgresDB,
	}
}

// Postgres is a migrated database running in a container.
type Postgres struct {
	Pool     *pgxpool.Pool
	docker   *dockertest.Pool
	resource *dockertest.Resource
}

// Start runs postgres:16-alpine, waits for it to accept connections and
// applies every migration.
func Start(ctx context.Context) (*Postgres, error) {
	docker, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}

	resource, err := docker.Run("postgres", "16-alpine", PostgresDockerEnv())
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	_ = resource.Expire(300)

	pg := &Postgres{docker: docker, resource: resource}
	dsn := PostgresDSN(resource.GetPort("5432/tcp"))
	if err := docker.Retry(func() error {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		pg.Pool = pool
		return nil
	}); err != nil {
		pg.Close()
		return nil, fmt.Errorf("wait for postgres: %w", err)
	}

	if err := db.RunMigrations(ctx, pg.Pool, migrations.FS); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// Close releases the pool and removes the container.
func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
	if p.docker != nil && p.resource != nil {
		_ = p.docker.Purge(p.resource)
	}
}
