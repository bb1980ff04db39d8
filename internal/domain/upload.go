package domain

import "time"

// Upload records one durable input blob owned by a user. StorageKey is
// the permanent blob id; URL is its public address.
type Upload struct {
	ID         string
	UserID     string
	StorageKey string
	URL        string
	MIMEType   string
	SizeBytes  int64
	CreatedAt  time.Time
}

// PromptTemplate is an optional named template applied to text-only and
// multi-reference prompts. Inactive templates are skipped, never an
// error.
type PromptTemplate struct {
	ID       string
	Name     string
	Prompt   string
	IsActive bool
}
