package domain

import "time"

// JobStatus enumerates queue lifecycle states.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// JobPriority leaves room for priority classes without multiple queues.
type JobPriority int

const (
	PriorityNormal JobPriority = 0
	PriorityHigh   JobPriority = 10
)

const (
	// DefaultMaxAttempts is the whole-job retry envelope, layered on top
	// of the per-call retry inside the generation client.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase seeds the exponential requeue delay.
	DefaultBackoffBase = 30 * time.Second
)

// JobPayload carries everything a worker needs to run one generation.
// It references the GenerationRecord and temp cache entries; it owns
// neither.
type JobPayload struct {
	GenerationID string         `json:"generation_id"`
	Kind         OperationKind  `json:"kind"`
	Prompt       string         `json:"prompt"`
	TemplateID   string         `json:"template_id,omitempty"`
	RefStyle     ReferenceStyle `json:"ref_style,omitempty"`
	ImageCount   int            `json:"image_count"`
	AspectRatio  string         `json:"aspect_ratio"`
	Inputs       []InputImage   `json:"inputs,omitempty"`
}

// Job is the queue's unit of work, one per generation record.
type Job struct {
	ID           string
	UserID       string
	Status       JobStatus
	Priority     JobPriority
	Payload      JobPayload
	AttemptCount int
	MaxAttempts  int
	NextRunAt    time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RetryBackoff returns the requeue delay after the given attempt number
// (1-based): base, 2*base, 4*base, ...
func RetryBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
