package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelmint/internal/domain"
)

// UploadRepositoryPG implements domain.UploadRepository.
type UploadRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUploadRepository creates an upload repository backed by PostgreSQL.
func NewUploadRepository(pool *pgxpool.Pool) *UploadRepositoryPG {
	return &UploadRepositoryPG{pool: pool}
}

// Create inserts metadata for a durably stored input blob.
func (r *UploadRepositoryPG) Create(ctx context.Context, up *domain.Upload) error {
	query := `
INSERT INTO uploads (id, user_id, storage_key, url, mime_type, size_bytes)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query, up.ID, up.UserID, up.StorageKey, up.URL, up.MIMEType, up.SizeBytes)
	return err
}

// GetByKey fetches an upload owned by the user; ownership is part of the
// lookup so jobs can never read another user's inputs.
func (r *UploadRepositoryPG) GetByKey(ctx context.Context, userID, storageKey string) (*domain.Upload, error) {
	query := `
SELECT id, user_id, storage_key, url, mime_type, size_bytes, created_at
FROM uploads
WHERE user_id = $1 AND storage_key = $2;
`
	row := r.pool.QueryRow(ctx, query, userID, storageKey)
	var up domain.Upload
	if err := row.Scan(&up.ID, &up.UserID, &up.StorageKey, &up.URL, &up.MIMEType, &up.SizeBytes, &up.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &up, nil
}

var _ domain.UploadRepository = (*UploadRepositoryPG)(nil)
