package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error)
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	query := `
		INSERT INTO media_assets (user_id, account_id, file_name, file_type, file_size, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		ma.UserID, ma.AccountID, ma.FileName, ma.FileType, ma.FileSize, ma.FileURL,
	).Scan(&ma.ID, &ma.CreatedAt)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return ma.ID, nil
}
