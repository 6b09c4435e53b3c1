// Copyright 2025 James Ross
package intake

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/queue"
)

// Server is the intake HTTP surface: job submission and schedule CRUD,
// fronted by a middleware chain that stamps request ids, recovers panics,
// authenticates tenants, rate-limits per tenant, and audits every mutation.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	audit  *AuditLogger
	http   *http.Server
}

func NewServer(jobs docstore.JobStore, schedules docstore.ScheduleStore, keys docstore.APIKeyStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) *Server {
	h := NewHandler(jobs, schedules, q, cfg, log)
	audit := NewAuditLogger(cfg.Intake.AuditLogPath)

	router := mux.NewRouter()
	router.HandleFunc("/v1/jobs", h.CreateJob).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules", h.CreateSchedule).Methods(http.MethodPost)
	router.HandleFunc("/v1/schedules", h.ListSchedules).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules/{id}", h.GetSchedule).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules/{id}", h.UpdateSchedule).Methods(http.MethodPut)
	router.HandleFunc("/v1/schedules/{id}/disable", h.DisableSchedule).Methods(http.MethodPost)

	handler := applyMiddleware(router,
		recoveryMiddleware(log),
		requestIDMiddleware,
		authMiddleware(keys, cfg.Intake.RequireAPIKey, log),
		rateLimitMiddleware(cfg.Intake.RateLimitPerSecond, cfg.Intake.RateLimitBurst),
		auditMiddleware(audit, log),
	)

	return &Server{
		cfg:   cfg,
		log:   log,
		audit: audit,
		http: &http.Server{
			Addr:         cfg.Intake.ListenAddr,
			Handler:      handler,
			ReadTimeout:  cfg.Intake.ReadTimeout,
			WriteTimeout: cfg.Intake.WriteTimeout,
		},
	}
}

// applyMiddleware wraps h with each middleware in order, so the first
// argument ends up outermost: requests hit recovery first, then request-id,
// then auth, then rate-limiting, then auditing, then the router.
func applyMiddleware(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
// A clean shutdown returns http.ErrServerClosed, which the caller should not
// treat as an error.
func (s *Server) Start() error {
	s.log.Info("intake server listening", zap.String("addr", s.cfg.Intake.ListenAddr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the audit log.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	return s.audit.Close()
}
