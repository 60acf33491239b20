package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"autopunch/internal/config"
	"autopunch/internal/domain"
	"autopunch/internal/hr104"

	"github.com/rs/zerolog"
)

// CompanyLister is the slice of the HR adapter the binding UI needs.
type CompanyLister interface {
	CompanyList(ctx context.Context, companyID string) ([]hr104.Company, error)
}

// HTTPServer exposes the schedule and binding API consumed by the web client.
type HTTPServer struct {
	cfg       config.APIConfig
	tasks     domain.TaskService
	bindings  domain.BindingService
	bindRepo  domain.BindingRepository
	companies CompanyLister
	puncher   domain.PunchAdapter
	exportDir string
	logger    *zerolog.Logger
	server    *http.Server
	auth      *HTTPAuth
}

func NewHTTPServer(
	cfg config.APIConfig,
	tasks domain.TaskService,
	bindings domain.BindingService,
	bindRepo domain.BindingRepository,
	companies CompanyLister,
	puncher domain.PunchAdapter,
	exportDir string,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:       cfg,
		tasks:     tasks,
		bindings:  bindings,
		bindRepo:  bindRepo,
		companies: companies,
		puncher:   puncher,
		exportDir: exportDir,
		logger:    logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bindings", srv.handleBind)
	mux.HandleFunc("/api/v1/bindings/status", srv.handleBindingStatus)
	mux.HandleFunc("/api/v1/companies", srv.handleCompanies)
	mux.HandleFunc("/api/v1/schedules", srv.handleSchedules)
	mux.HandleFunc("/api/v1/schedules/cancel", srv.handleCancel)
	mux.HandleFunc("/api/v1/schedules/export", srv.handleExport)
	mux.HandleFunc("/api/v1/punch", srv.handlePunchNow)
	mux.HandleFunc("/api/v1/usage", srv.handleUsage)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the full middleware chain for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{"success": false, "error": message})
}
