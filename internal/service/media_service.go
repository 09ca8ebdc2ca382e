package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxMediaBytes = 100 << 20

var allowedMediaTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpg": {}, "png": {}, "webp": {}, "gif": {},
}

type MediaService interface {
	Upload(ctx context.Context, requester Requester, accountID string, files []*multipart.FileHeader) ([]*models.MediaAsset, error)
}

type mediaService struct {
	storage ObjectStorage
	assets  repository.MediaAssetRepository
	uow     repository.TxRunner
	scope   ScopeService
}

func NewMediaService(storage ObjectStorage, assets repository.MediaAssetRepository, uow repository.TxRunner, scope ScopeService) MediaService {
	return &mediaService{storage: storage, assets: assets, uow: uow, scope: scope}
}

// Upload stores every file or none of their asset rows. Objects already put
// before a failure stay in the bucket unreferenced.
func (s *mediaService) Upload(ctx context.Context, requester Requester, accountID string, files []*multipart.FileHeader) ([]*models.MediaAsset, error) {
	if len(files) == 0 {
		return nil, apperr.Invalid("files", "no files provided")
	}

	binding, err := s.scope.Resolve(ctx, ScopeRequest{
		UserID:             requester.UserID,
		RequestedAccountID: accountID,
		AllowedRoles:       writerRoles,
		TeamHints:          requester.TeamHints,
		Fresh:              true,
	})
	if err != nil {
		return nil, err
	}

	var ownerAccount *string
	if binding != nil {
		ownerAccount = &binding.AccountID
	}

	assets := make([]*models.MediaAsset, 0, len(files))
	for _, file := range files {
		asset, err := s.put(ctx, requester.UserID, ownerAccount, file)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	err = s.uow.WithinTx(ctx, func(tx *sql.Tx) error {
		for _, asset := range assets {
			if _, err := s.assets.Create(ctx, tx, asset); err != nil {
				return fmt.Errorf("error saving media asset: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (s *mediaService) put(ctx context.Context, userID int64, accountID *string, file *multipart.FileHeader) (*models.MediaAsset, error) {
	if file.Size > maxMediaBytes {
		return nil, apperr.Invalid("files", "%s exceeds %d bytes", file.Filename, maxMediaBytes)
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}

	kind, err := filetype.Match(content)
	if err != nil || kind == types.Unknown {
		return nil, apperr.Invalid("files", "unsupported file type for %s", file.Filename)
	}
	if _, ok := allowedMediaTypes[kind.Extension]; !ok {
		return nil, apperr.Invalid("files", "file type %s is not allowed", kind.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	key := id + "." + kind.Extension

	url, err := s.storage.Put(ctx, key, content, kind.MIME.Value)
	if err != nil {
		return nil, fmt.Errorf("error uploading file: %w", err)
	}

	return &models.MediaAsset{
		UserID:    userID,
		AccountID: accountID,
		FileName:  file.Filename,
		FileType:  kind.MIME.Value,
		FileSize:  int64(len(content)),
		FileURL:   url,
	}, nil
}
