package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelmint/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new pending generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, rec *domain.GenerationRecord) error {
	query := `
INSERT INTO generations (id, user_id, kind, prompt, status, requested_image_count, aspect_ratio, tokens_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0);
`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Kind,
		rec.Prompt,
		rec.Status,
		rec.RequestedImageCount,
		rec.AspectRatio,
	)
	return err
}

// CreateWithJob atomically inserts the generation record and its queue
// job so an accepted request can never exist without a job or vice
// versa.
func (r *GenerationRepositoryPG) CreateWithJob(ctx context.Context, rec *domain.GenerationRecord, job *domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO generations (id, user_id, kind, prompt, status, requested_image_count, aspect_ratio, tokens_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0);
`, rec.ID, rec.UserID, rec.Kind, rec.Prompt, rec.Status, rec.RequestedImageCount, rec.AspectRatio); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO jobs (id, user_id, status, priority, payload, attempt_count, max_attempts, next_run_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, now());
`, job.ID, job.UserID, job.Status, job.Priority, payload, job.MaxAttempts); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationRecord, error) {
	query := `
SELECT id, user_id, kind, prompt, COALESCE(enhanced_prompt, ''), status, requested_image_count,
       aspect_ratio, tokens_used, processing_duration_ms, COALESCE(error_message, ''),
       COALESCE(outputs, '[]'::jsonb), created_at, completed_at
FROM generations
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var rec domain.GenerationRecord
	var outputs []byte
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Kind,
		&rec.Prompt,
		&rec.EnhancedPrompt,
		&rec.Status,
		&rec.RequestedImageCount,
		&rec.AspectRatio,
		&rec.TokensUsed,
		&rec.ProcessingDurationMs,
		&rec.ErrorMessage,
		&outputs,
		&rec.CreatedAt,
		&rec.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(outputs, &rec.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return &rec, nil
}

// MarkProcessing transitions a pending record to processing.
func (r *GenerationRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	query := `
UPDATE generations
SET status = $2
WHERE id = $1 AND status = $3;
`
	_, err := r.pool.Exec(ctx, query, id, domain.GenerationProcessing, domain.GenerationPending)
	return err
}

// MarkCompleted terminally completes the record with its outputs and
// billing totals.
func (r *GenerationRepositoryPG) MarkCompleted(ctx context.Context, id string, outputs []domain.OutputImage, tokensUsed int, durationMs int64, enhancedPrompt string) error {
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	query := `
UPDATE generations
SET status = $2,
    outputs = $3,
    tokens_used = $4,
    processing_duration_ms = $5,
    enhanced_prompt = $6,
    completed_at = now()
WHERE id = $1 AND status NOT IN ($7, $8);
`
	_, err = r.pool.Exec(ctx, query, id, domain.GenerationCompleted, encoded, tokensUsed, durationMs, enhancedPrompt,
		domain.GenerationCompleted, domain.GenerationFailed)
	return err
}

// MarkFailed terminally fails the record. tokens_used stays zero; debits
// for images produced before the failure live only in the ledger.
func (r *GenerationRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `
UPDATE generations
SET status = $2,
    error_message = $3,
    completed_at = now()
WHERE id = $1 AND status NOT IN ($4, $5);
`
	_, err := r.pool.Exec(ctx, query, id, domain.GenerationFailed, errMsg,
		domain.GenerationCompleted, domain.GenerationFailed)
	return err
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
