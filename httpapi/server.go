package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medlingua/pipeline/cache"
	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/joblifecycle"
	"github.com/medlingua/pipeline/queue"
	"github.com/medlingua/pipeline/storage"
)

// MaxUploadBytes bounds the multipart upload body; uploads exceeding it
// are rejected.
const MaxUploadBytes = 50 * 1024 * 1024

// Server bundles every collaborator the HTTP surface needs and builds the
// chi router. Apart from the feedback rate limiter that NewServer creates,
// it holds only what's injected.
type Server struct {
	Jobs     *storage.JobRepository
	Config   *storage.ConfigRepository
	Feedback *storage.FeedbackRepository
	Manager  *joblifecycle.Manager
	Cache    *cache.Cache
	Broker   *queue.Broker
	Registry *queue.WorkerRegistry
	Logger   core.Logger
	Auth     AdminAuthenticator

	CORS    *core.CORSConfig
	DevMode bool

	feedbackLimit *ipRateLimiter
}

// NewServer wires a Server. Auth defaults to DevAuthenticator{} when nil.
func NewServer(jobs *storage.JobRepository, cfg *storage.ConfigRepository, fb *storage.FeedbackRepository,
	manager *joblifecycle.Manager, c *cache.Cache, broker *queue.Broker, registry *queue.WorkerRegistry,
	logger core.Logger, auth AdminAuthenticator, cors *core.CORSConfig, devMode bool) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if auth == nil {
		auth = DevAuthenticator{}
	}
	return &Server{
		Jobs: jobs, Config: cfg, Feedback: fb, Manager: manager, Cache: c,
		Broker: broker, Registry: registry, Logger: logger, Auth: auth,
		CORS: cors, DevMode: devMode,
		feedbackLimit: newIPRateLimiter(10, time.Minute),
	}
}

// Routes builds the full router: middleware chain, then every route
// group the service exposes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(core.LoggingMiddleware(s.Logger, s.DevMode))
	if s.CORS != nil {
		r.Use(core.CORSMiddleware(s.CORS))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/process/{processingID}", s.handleProcess)
		r.Get("/process/active", s.handleActive)
		r.Get("/process/{processingID}/status", s.handleStatus)
		r.Get("/process/{processingID}/result", s.handleResult)

		r.Post("/feedback", s.handleSubmitFeedback)
		r.Get("/feedback/{processingID}", s.handleGetFeedback)
		r.Post("/feedback/cleanup/{processingID}", s.handleFeedbackCleanup)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/steps", requireAdmin(s.Auth, s.handleListSteps))
			r.Put("/steps", requireAdmin(s.Auth, s.handleUpsertStep))
			r.Get("/document-classes", requireAdmin(s.Auth, s.handleListClasses))
			r.Delete("/document-classes/{id}", requireAdmin(s.Auth, s.handleDeleteClass))
			r.Get("/models", requireAdmin(s.Auth, s.handleListModels))
			r.Get("/ocr-configuration", requireAdmin(s.Auth, s.handleOCRConfig))
			r.Get("/settings/{key}", requireAdmin(s.Auth, s.handleGetSetting))
			r.Put("/settings/{key}", requireAdmin(s.Auth, s.handlePutSetting))
			r.Get("/analytics/costs", requireAdmin(s.Auth, s.handleCostAnalytics))
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":      "ok",
		"cache_healthy": s.Cache == nil || s.Cache.Healthy(),
	}
	if s.Jobs != nil {
		if err := s.Jobs.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
	}
	if err := s.Broker.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["broker"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}
