package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/anomalyreport/internal/api/middleware"
	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth        *mw.Auth
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler   http.HandlerFunc
	LoginHandler    http.HandlerFunc
	RegisterHandler http.HandlerFunc
	LogoutHandler   http.HandlerFunc
	MeHandler       http.HandlerFunc

	SubmitStream    http.HandlerFunc
	SubmitVideo     http.HandlerFunc
	SubmitArchive   http.HandlerFunc
	ListSubmissions http.HandlerFunc

	OpenReport      http.HandlerFunc
	GetReport       http.HandlerFunc
	CloseReport     http.HandlerFunc
	ReportEvents    http.HandlerFunc
	GetJobReport    http.HandlerFunc
	CancelJob       http.HandlerFunc
	JobChart        http.HandlerFunc
	ExportJobCSV    http.HandlerFunc
	SetSelection    http.HandlerFunc
	ToggleSelection http.HandlerFunc
	ClearSelection  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Handle("/metrics", metrics.Handler())
	r.Post("/api/v1/auth/login", orNotImplemented(deps.LoginHandler))
	r.Post("/api/v1/auth/register", orNotImplemented(deps.RegisterHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/auth/logout", orNotImplemented(deps.LogoutHandler))
		r.Get("/api/v1/auth/me", orNotImplemented(deps.MeHandler))

		r.Post("/api/v1/detections/stream", orNotImplemented(deps.SubmitStream))
		r.Post("/api/v1/detections/video", orNotImplemented(deps.SubmitVideo))
		r.Post("/api/v1/detections/archive", orNotImplemented(deps.SubmitArchive))
		r.Get("/api/v1/detections", orNotImplemented(deps.ListSubmissions))

		r.Route("/api/v1/report", func(r chi.Router) {
			r.Put("/", orNotImplemented(deps.OpenReport))
			r.Get("/", orNotImplemented(deps.GetReport))
			r.Delete("/", orNotImplemented(deps.CloseReport))
			r.Get("/events", orNotImplemented(deps.ReportEvents))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetJobReport))
				r.Post("/cancel", orNotImplemented(deps.CancelJob))
				r.Get("/chart", orNotImplemented(deps.JobChart))
				r.Get("/export.csv", orNotImplemented(deps.ExportJobCSV))
				r.Put("/selection", orNotImplemented(deps.SetSelection))
				r.Post("/selection/toggle", orNotImplemented(deps.ToggleSelection))
				r.Delete("/selection", orNotImplemented(deps.ClearSelection))
			})
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
