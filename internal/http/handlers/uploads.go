package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"pixelmint/internal/domain"
	"pixelmint/internal/tempcache"
)

const defaultMaxUploadBytes = 10 << 20

var allowedUploadTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

type uploadResponse struct {
	UploadID   string `json:"uploadId"`
	TempID     string `json:"tempId,omitempty"`
	StorageKey string `json:"storageKey"`
	URL        string `json:"url"`
	MIMEType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// UploadImage accepts one multipart reference image, writes it to
// durable storage, and stages a short-lived local copy so a job
// submitted right after can skip the storage round trip. The staged
// copy is an optimization only; a missing tempId never blocks a job.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	maxBytes := a.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowedUploadTypes[contentType]
	if !ok {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_type", "only PNG, JPEG, and WebP images are accepted")
		return
	}

	obj, err := a.Store.Put(r.Context(), data, contentType, "uploads/"+userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: durable upload failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not store upload")
		return
	}

	up := &domain.Upload{
		ID:         uuid.NewString(),
		UserID:     userID,
		StorageKey: obj.Key,
		URL:        obj.URL,
		MIMEType:   contentType,
		SizeBytes:  int64(len(data)),
	}
	if err := a.Uploads.Create(r.Context(), up); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: upload metadata insert failed")
		a.error(w, http.StatusInternalServerError, "internal", "could not store upload")
		return
	}

	tempID := a.stageUpload(r, userID, obj.Key, data, ext)

	a.json(w, http.StatusCreated, uploadResponse{
		UploadID:   up.ID,
		TempID:     tempID,
		StorageKey: up.StorageKey,
		URL:        up.URL,
		MIMEType:   up.MIMEType,
		SizeBytes:  up.SizeBytes,
	})
}

func (a *App) stageUpload(r *http.Request, userID, durableRef string, data []byte, ext string) string {
	scratch := filepath.Join(os.TempDir(), uuid.NewString()+ext)
	if err := os.WriteFile(scratch, data, 0o600); err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: staging scratch write failed, upload is durable only")
		return ""
	}
	defer os.Remove(scratch)

	tempID, err := a.Cache.Store(r.Context(), scratch, tempcache.Metadata{
		OwnerUserID: userID,
		DurableRef:  durableRef,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: staging failed, upload is durable only")
		return ""
	}
	return tempID
}
