package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/italolelis/media_downloader/internal/telemetry"
)

const (
	APIPrefix      = "/api/v1"
	StatusPrefix   = APIPrefix + "/status"
	DownloadPrefix = APIPrefix + "/downloaded"
)

type RouterConfig struct {
	Downloads   *DownloadsHandler
	Telemetry   *telemetry.Telemetry
	CORSOrigins []string
	// ActiveJobs reports how many jobs are queued or running, for /health.
	ActiveJobs func() int
}

type HealthResponse struct {
	Status     string `json:"status"`
	ActiveJobs int    `json:"active_jobs"`
}

// NewRouter assembles the middleware stack and every route of the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", telemetry.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(cfg.Telemetry).Middleware)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Media Downloader API!"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if cfg.ActiveJobs != nil {
			resp.ActiveJobs = cfg.ActiveJobs()
		}

		writeJSON(w, http.StatusOK, resp)
	})

	r.Handle("/metrics", cfg.Telemetry.Handler())

	r.Mount(APIPrefix, cfg.Downloads.Routes())

	return r
}
