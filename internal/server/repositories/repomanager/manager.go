package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/studykeeper/internal/dbx"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/accountsecrets"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	AccountSecrets(db dbx.DBTX) accountsecrets.Repository
}
