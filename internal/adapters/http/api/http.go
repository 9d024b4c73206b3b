// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/lowmax205/eas/internal/adapters/repository"
	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/internal/domain/verify"
	"github.com/lowmax205/eas/pkg/logger"
)

const defaultMaxBodyBytes = 8 << 20

// Service is what the handlers need from the application layer.
type Service interface {
	VerifyNow(ctx context.Context, sub model.AttendanceSubmission) (verify.Result, error)
	Submit(ctx context.Context, sub model.AttendanceSubmission) (service.SubmitStatus, error)
	Reverify(ctx context.Context, submissionID string) (verify.Result, error)
	Verification(ctx context.Context, submissionID string) (repository.StoredVerification, error)
	Record(ctx context.Context, recordID string) (model.AttendanceRecord, []model.AttendanceLog, error)
	Override(ctx context.Context, recordID string, accept bool, adminID, reason string) (model.AttendanceRecord, error)
	RegisterEvent(ctx context.Context, w model.EventWindow) (model.EventWindow, error)
	RegisterProfile(ctx context.Context, p model.ReferenceProfile) error

	HealthProvider
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	svc            Service
	router         chi.Router
	logger         logger.Logger
	limiter        *RateLimiter
	allowedOrigins []string
	maxBodyBytes   int64
	now            func() time.Time
	newID          func() string

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		logger:         logger.Nop(),
		allowedOrigins: []string{"*"},
		maxBodyBytes:   defaultMaxBodyBytes,
		now:            time.Now,
		newID:          func() string { return uuid.NewString() },
		healthHandler:  NewHealthHandler(svc),
		statsHandler:   NewStatsHandler(svc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Router exposes the chi router so other packages can mount extra routes.
func (s *Server) Router() chi.Router { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/verifications", s.handleVerifyNow)
		r.Get("/verifications/{submissionID}", s.handleGetVerification)
		r.Post("/verifications/{submissionID}/reverify", s.handleReverify)
		r.Post("/submissions", s.handleSubmit)
		r.Get("/attendance/{recordID}", s.handleGetAttendance)
		r.Post("/attendance/{recordID}/override", s.handleOverride)
		r.Put("/events/{eventID}", s.handlePutEvent)
		r.Put("/profiles/{userID}", s.handlePutProfile)
	})
	s.router = r
}
