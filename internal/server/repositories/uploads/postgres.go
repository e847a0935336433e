// Package uploads is the store-of-record repository for upload records.
package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/dbx"
	"github.com/dmitrijs2005/pixelriver/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the upload and fills in the generated ID.
func (r *PostgresRepository) Create(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	query :=
		`INSERT INTO uploads (original_file_name, file_name, source_url, webhook_url, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		upload.OriginalFileName, upload.FileName, upload.SourceURL, nullString(upload.WebhookURL),
		string(upload.Status), upload.Progress, upload.CreatedAt, upload.UpdatedAt).Scan(&upload.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return upload, nil
}

// GetByID returns common.ErrorNotFound when no upload has the given id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	query :=
		`SELECT id, original_file_name, file_name, source_url, webhook_url, status, progress, created_at, updated_at
		 FROM uploads
		 WHERE id = $1
		 `

	var (
		u       models.Upload
		webhook sql.NullString
		status  string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.OriginalFileName, &u.FileName, &u.SourceURL, &webhook, &status, &u.Progress, &u.CreatedAt, &u.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	u.WebhookURL = webhook.String
	if u.Status, err = models.ParseUploadStatus(status); err != nil {
		return nil, fmt.Errorf("corrupt upload %s: %w", id, err)
	}

	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
