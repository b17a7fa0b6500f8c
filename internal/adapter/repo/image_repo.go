package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nero/internal/domain"
	"nero/internal/infra"
	"nero/internal/sqlinline"
)

// ImageRepositoryPG implements domain.ImageRepository.
type ImageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewImageRepository(sql infra.SQLExecutor) *ImageRepositoryPG {
	return &ImageRepositoryPG{sql: sql}
}

func (r *ImageRepositoryPG) Create(ctx context.Context, image *domain.GeneratedImage) error {
	refs := image.ReferenceInputs
	if refs == nil {
		refs = []string{}
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGeneratedImage,
		image.ID,
		image.OwnerID,
		image.TaskID,
		image.Prompt,
		string(image.Status),
		refs,
		image.CreatedAt,
	)
	return mapInsertError(err)
}

func (r *ImageRepositoryPG) GetByTaskID(ctx context.Context, taskID string) (*domain.GeneratedImage, error) {
	return scanImage(r.sql.QueryRow(ctx, sqlinline.QSelectImageByTask, taskID))
}

func (r *ImageRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListImagesByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var images []domain.GeneratedImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func (r *ImageRepositoryPG) MarkCompleted(ctx context.Context, taskID, reference string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkImageCompleted, taskID, reference, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ImageRepositoryPG) MarkFailed(ctx context.Context, taskID, detail string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkImageFailed, taskID, detail, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanImage(row pgx.Row) (*domain.GeneratedImage, error) {
	var (
		img    domain.GeneratedImage
		status string
	)
	if err := row.Scan(
		&img.ID,
		&img.OwnerID,
		&img.TaskID,
		&img.Prompt,
		&status,
		&img.ImageReference,
		&img.ReferenceInputs,
		&img.ErrorDetail,
		&img.CreatedAt,
		&img.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	img.Status = domain.ImageStatus(status)
	return &img, nil
}
