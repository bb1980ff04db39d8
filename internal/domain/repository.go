package domain

import (
	"context"
	"time"
)

// GenerationRepository persists generation records.
type GenerationRepository interface {
	Create(ctx context.Context, rec *GenerationRecord) error
	GetByID(ctx context.Context, id string) (*GenerationRecord, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, outputs []OutputImage, tokensUsed int, durationMs int64, enhancedPrompt string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// TokenLedger provides the atomic balance operations. Debit fails with
// ErrInsufficientBalance when the balance is short at the moment of the
// attempt, based on a conditional update rather than a stale read.
type TokenLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	Debit(ctx context.Context, userID string, amount int, reasonCode, referenceID string) (remaining int, err error)
	Credit(ctx context.Context, userID string, amount int, reasonCode, referenceID string) (remaining int, err error)
	Transactions(ctx context.Context, userID string) ([]TokenTransaction, error)
	TransactionsByReference(ctx context.Context, referenceID string) ([]TokenTransaction, error)
}

// JobQueue is the durable work distribution contract. Claim returns
// ErrNotFound when nothing is runnable.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID string) error
	// Fail requeues with backoff while attempts remain, otherwise marks
	// the job failed. Returns whether another attempt is scheduled.
	Fail(ctx context.Context, jobID string, attempt int, maxAttempts int, backoff time.Duration, errMsg string) (retrying bool, err error)
}

// TemplateRepository fetches optional prompt templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*PromptTemplate, error)
}

// UploadRepository stores metadata for durable input blobs.
type UploadRepository interface {
	Create(ctx context.Context, up *Upload) error
	GetByKey(ctx context.Context, userID, storageKey string) (*Upload, error)
}
