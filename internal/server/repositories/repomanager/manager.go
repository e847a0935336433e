package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/outbox"
	"github.com/dmitrijs2005/pixelriver/internal/server/repositories/uploads"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Uploads(db dbx.DBTX) uploads.Repository
	Outbox(db dbx.DBTX) outbox.Repository
}
