package uploads

import (
	"context"

	"github.com/dmitrijs2005/pixelriver/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, upload *models.Upload) (*models.Upload, error)
	GetByID(ctx context.Context, id string) (*models.Upload, error)
}
