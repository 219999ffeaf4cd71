// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/studykeeper/internal/dbx"
	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/server/migrations"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/accountsecrets"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	logger    logging.Logger
	rotations int
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed
// RepositoryManager. rotations is the reauth token verification window.
func NewPostgresRepositoryManager(logger logging.Logger, rotations int) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{logger: logger, rotations: rotations}
}

// Accounts returns an accounts.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db, m.AccountSecrets(db), m.logger, m.rotations)
}

// AccountSecrets returns an accountsecrets.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) AccountSecrets(db dbx.DBTX) accountsecrets.Repository {
	return accountsecrets.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
