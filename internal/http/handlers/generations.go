package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixelmint/internal/domain"
)

const (
	maxImageCount      = 4
	minMultiReferences = 2
	maxMultiReferences = 6
	maxPromptLength    = 4000
)

type inputImageRequest struct {
	TempID     string `json:"tempId"`
	StorageKey string `json:"storageKey"`
}

type submitGenerationRequest struct {
	Kind        string              `json:"kind"`
	Prompt      string              `json:"prompt"`
	TemplateID  string              `json:"templateId"`
	RefStyle    string              `json:"refStyle"`
	ImageCount  int                 `json:"imageCount"`
	AspectRatio string              `json:"aspectRatio"`
	Inputs      []inputImageRequest `json:"inputs"`
}

type submitGenerationResponse struct {
	GenerationID string `json:"generationId"`
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
}

type outputImageResponse struct {
	StorageKey string `json:"storageKey,omitempty"`
	URL        string `json:"url"`
	MIMEType   string `json:"mimeType"`
}

type generationResponse struct {
	ID                   string                `json:"id"`
	Kind                 string                `json:"kind"`
	Prompt               string                `json:"prompt"`
	Status               string                `json:"status"`
	RequestedImageCount  int                   `json:"requestedImageCount"`
	AspectRatio          string                `json:"aspectRatio"`
	TokensUsed           int                   `json:"tokensUsed"`
	ProcessingDurationMs int64                 `json:"processingDurationMs"`
	ErrorMessage         string                `json:"errorMessage,omitempty"`
	Outputs              []outputImageResponse `json:"outputs"`
	CreatedAt            time.Time             `json:"createdAt"`
	CompletedAt          *time.Time            `json:"completedAt,omitempty"`
}

// SubmitGeneration accepts a generation request, checks the balance can
// cover the worst case, and atomically creates the pending record with
// its queue job. The response is 202: all real work happens in the
// worker.
func (a *App) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req submitGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	kind := domain.OperationKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = domain.OpTextOnly
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	if len(req.Prompt) > maxPromptLength {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is too long")
		return
	}

	count := req.ImageCount
	if count == 0 {
		count = 1
	}
	if count < 1 || count > maxImageCount {
		a.error(w, http.StatusBadRequest, "bad_request", "imageCount must be between 1 and 4")
		return
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "1:1"
	}

	refStyle := domain.ReferenceStyle(req.RefStyle)
	switch kind {
	case domain.OpTextOnly:
		if len(req.Inputs) != 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "TEXT_ONLY accepts no reference images")
			return
		}
	case domain.OpSingleReference:
		if len(req.Inputs) != 1 {
			a.error(w, http.StatusBadRequest, "bad_request", "SINGLE_REFERENCE requires exactly one reference image")
			return
		}
		switch refStyle {
		case domain.RefStyleSubject, domain.RefStyleFace, domain.RefStyleFullImage:
		case "":
			refStyle = domain.RefStyleSubject
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "unknown refStyle")
			return
		}
	case domain.OpMultiReference:
		if len(req.Inputs) < minMultiReferences || len(req.Inputs) > maxMultiReferences {
			a.error(w, http.StatusBadRequest, "bad_request", "MULTI_REFERENCE requires 2 to 6 reference images")
			return
		}
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unknown kind")
		return
	}

	inputs := make([]domain.InputImage, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		if in.StorageKey == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "each input needs a storageKey")
			return
		}
		if _, err := a.Uploads.GetByKey(r.Context(), userID, in.StorageKey); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				a.error(w, http.StatusBadRequest, "bad_request", "unknown reference image")
				return
			}
			a.error(w, http.StatusInternalServerError, "internal", "could not verify reference image")
			return
		}
		inputs = append(inputs, domain.InputImage{TempID: in.TempID, DurableRef: in.StorageKey})
	}

	// Fast-fail when the balance cannot cover the request. Billing still
	// happens per image at generation time.
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "could not read token balance")
		return
	}
	if balance < a.CostPerImage*count {
		a.error(w, http.StatusPaymentRequired, "insufficient_balance", "Insufficient token balance")
		return
	}

	rec := &domain.GenerationRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Kind:                kind,
		Prompt:              req.Prompt,
		Status:              domain.GenerationPending,
		RequestedImageCount: count,
		AspectRatio:         aspect,
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      domain.JobQueued,
		Priority:    domain.PriorityNormal,
		MaxAttempts: domain.DefaultMaxAttempts,
		Payload: domain.JobPayload{
			GenerationID: rec.ID,
			Kind:         kind,
			Prompt:       req.Prompt,
			TemplateID:   req.TemplateID,
			RefStyle:     refStyle,
			ImageCount:   count,
			AspectRatio:  aspect,
			Inputs:       inputs,
		},
	}

	if err := a.Gens.CreateWithJob(r.Context(), rec, job); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: create generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not accept generation")
		return
	}

	a.json(w, http.StatusAccepted, submitGenerationResponse{
		GenerationID: rec.ID,
		JobID:        job.ID,
		Status:       string(domain.GenerationPending),
	})
}

// GetGeneration returns one generation owned by the caller. Records of
// other users are indistinguishable from missing ones.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := a.Gens.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "could not load generation")
		return
	}
	if rec.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}

	outputs := make([]outputImageResponse, 0, len(rec.Outputs))
	for _, out := range rec.Outputs {
		outputs = append(outputs, outputImageResponse{
			StorageKey: out.StorageKey,
			URL:        out.URL,
			MIMEType:   out.MIMEType,
		})
	}
	a.json(w, http.StatusOK, generationResponse{
		ID:                   rec.ID,
		Kind:                 string(rec.Kind),
		Prompt:               rec.Prompt,
		Status:               string(rec.Status),
		RequestedImageCount:  rec.RequestedImageCount,
		AspectRatio:          rec.AspectRatio,
		TokensUsed:           rec.TokensUsed,
		ProcessingDurationMs: rec.ProcessingDurationMs,
		ErrorMessage:         rec.ErrorMessage,
		Outputs:              outputs,
		CreatedAt:            rec.CreatedAt,
		CompletedAt:          rec.CompletedAt,
	})
}
