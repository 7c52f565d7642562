package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/buckets"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/files"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Buckets(db dbx.DBTX) buckets.Repository
	Files(db dbx.DBTX) files.Repository
}
