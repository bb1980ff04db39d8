// Package handlers implements the public HTTP API: job submission,
// status polling, input uploads, token accounting, and the websocket
// entry point.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/middleware"
	"pixelmint/internal/notify"
	"pixelmint/internal/storage"
	"pixelmint/internal/tempcache"
)

// GenerationStore is the record contract plus the atomic accept path:
// the record and its queue job are created in one transaction.
type GenerationStore interface {
	domain.GenerationRepository
	CreateWithJob(ctx context.Context, rec *domain.GenerationRecord, job *domain.Job) error
}

type App struct {
	Gens    GenerationStore
	Ledger  domain.TokenLedger
	Uploads domain.UploadRepository
	Cache   tempcache.Cache
	Store   storage.BlobStore
	Hub     *notify.Hub
	Logger  zerolog.Logger

	CostPerImage   int
	MaxUploadBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
