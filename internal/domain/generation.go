package domain

import "time"

// OperationKind enumerates the supported generation request shapes.
type OperationKind string

const (
	OpTextOnly        OperationKind = "TEXT_ONLY"
	OpSingleReference OperationKind = "SINGLE_REFERENCE"
	OpMultiReference  OperationKind = "MULTI_REFERENCE"
)

// GenerationStatus enumerates the generation record state machine.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "PENDING"
	GenerationProcessing GenerationStatus = "PROCESSING"
	GenerationCompleted  GenerationStatus = "COMPLETED"
	GenerationFailed     GenerationStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// OutputImage is one durable output reference attached to a completed
// generation, in generation order.
type OutputImage struct {
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
	MIMEType   string `json:"mime_type"`
}

// GenerationRecord tracks one user-visible generation request from
// acceptance to its terminal state. tokensUsed is only ever written on
// completion; failed records always carry zero.
type GenerationRecord struct {
	ID                   string
	UserID               string
	Kind                 OperationKind
	Prompt               string
	EnhancedPrompt       string
	Status               GenerationStatus
	RequestedImageCount  int
	AspectRatio          string
	TokensUsed           int
	ProcessingDurationMs int64
	ErrorMessage         string
	Outputs              []OutputImage
	CreatedAt            time.Time
	CompletedAt          *time.Time
}

// ReferenceStyle selects the instruction block used for single-reference
// generations.
type ReferenceStyle string

const (
	RefStyleSubject   ReferenceStyle = "subject"
	RefStyleFace      ReferenceStyle = "face"
	RefStyleFullImage ReferenceStyle = "full_image"
)

// InputImage points at one reference image. TempID is set when the blob
// was uploaded in the same request and may still be staged locally;
// DurableRef always names the permanent copy.
type InputImage struct {
	TempID     string `json:"temp_id,omitempty"`
	DurableRef string `json:"durable_ref"`
}
