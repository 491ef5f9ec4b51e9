package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/m-mizutani/playbot/pkg/usecase/export"
	"github.com/m-mizutani/playbot/pkg/usecase/guide"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
)

// maxBodySize bounds JSON request bodies
const maxBodySize = 1 << 20

// Server is the HTTP API of playbot
type Server struct {
	router   chi.Router
	guide    *guide.UseCase
	history  *history.UseCase
	export   *export.UseCase
	mcp      http.Handler
	autoSave bool
}

// Option is a functional option for Server
type Option func(*Server)

// WithExport enables POST /export-guide backed by uc
func WithExport(uc *export.UseCase) Option {
	return func(s *Server) {
		s.export = uc
	}
}

// WithMCP mounts an MCP streamable HTTP handler at /mcp
func WithMCP(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

// WithAutoSave makes POST /generate-guide record history in the background
// after a successful generation.
func WithAutoSave(enabled bool) Option {
	return func(s *Server) {
		s.autoSave = enabled
	}
}

// New creates a Server. Routes are served both at the root and under /api.
func New(guideUC *guide.UseCase, historyUC *history.UseCase, opts ...Option) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		guide:   guideUC,
		history: historyUC,
		export:  export.New(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestSize(maxBodySize))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not Found"})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method Not Allowed"})
	})

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"gemini":     s.guide.Configured(),
			"export":     s.export.Configured(),
			"auto_save":  s.autoSave,
			"checked_at": time.Now().UTC(),
		})
	})

	if s.mcp != nil {
		s.router.Handle("/mcp", s.mcp)
	}

	for _, prefix := range []string{"", "/api"} {
		s.router.Post(prefix+"/generate-guide", s.handleGenerateGuide)
		s.router.Post(prefix+"/save-history", s.handleSaveHistory)
		s.router.Get(prefix+"/get-history", s.handleGetHistory)
		s.router.Post(prefix+"/export-guide", s.handleExportGuide)
		s.router.Get(prefix+"/export-guide/*", s.handleGetExportedGuide)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// WaitBackground blocks until background history writes have finished
func (s *Server) WaitBackground() {
	s.history.Wait()
}

// requestLogger attaches a request scoped logger with a request ID to the
// context and logs every completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		logger := logging.From(r.Context()).With("request_id", reqID)
		ctx := logging.With(r.Context(), logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
