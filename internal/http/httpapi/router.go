package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pixelmint/internal/http/handlers"
	"pixelmint/internal/middleware"
)

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestsPerMin int
	Logger         zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RequestsPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RequestsPerMin, time.Minute))
		}

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.SubmitGeneration)
			r.Get("/{id}", app.GetGeneration)
		})

		r.Post("/v1/uploads", app.UploadImage)

		r.Route("/v1/tokens", func(r chi.Router) {
			r.Get("/balance", app.TokenBalance)
			r.Get("/transactions", app.TokenTransactions)
			r.Post("/credit", app.CreditTokens)
		})

		r.Get("/v1/ws", app.Socket)
	})

	return r
}
