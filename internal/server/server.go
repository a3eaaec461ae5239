package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"previewd/internal/cache"
	"previewd/internal/models"
	"previewd/internal/preview"
	"previewd/internal/security"
)

// Server exposes the preview pipeline and the admin surface over
// HTTP. Authentication happens upstream; this layer only extracts the
// caller identity the invocation host forwards.
type Server struct {
	orch      *preview.Orchestrator
	cache     *cache.Store
	validator *security.Validator
	logger    *zap.Logger
}

func New(orch *preview.Orchestrator, cacheStore *cache.Store, validator *security.Validator, logger *zap.Logger) *Server {
	return &Server{
		orch:      orch,
		cache:     cacheStore,
		validator: validator,
		logger:    logger,
	}
}

// Router builds the chi routing tree with the logging and request-id
// middleware installed.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Post("/v1/preview", s.handlePreview)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/invalidate", s.handleInvalidate)
		r.Get("/ratelimit/status", s.handleRateLimitStatus)
	})

	return r
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req models.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &preview.Response{
			Error: models.NewValidationError(models.ReasonInvalidRequest, "malformed JSON body"),
		})
		return
	}

	sc := models.SecurityContext{
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
		RequestID:    RequestIDFromContext(r.Context()),
		Timestamp:    time.Now().UTC(),
		RateLimitKey: security.RateLimitKey(req.UserID, clientIP(r)),
	}

	resp := s.orch.Generate(r.Context(), req, sc)
	writeJSON(w, statusFor(resp), resp)
}

// statusFor maps the pipeline's terminal state onto an HTTP status.
func statusFor(resp *preview.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}
	switch resp.Error.Category {
	case models.CategoryValidation:
		return http.StatusBadRequest
	case models.CategorySecurity:
		return http.StatusForbidden
	case models.CategoryRetrieval:
		return http.StatusBadGateway
	case models.CategoryRender:
		if resp.Error.Reason == models.ReasonUnsupportedType {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Statistics(r.Context())
	if err != nil {
		s.logger.Error("cache statistics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "statistics unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type invalidateRequest struct {
	FileURL string `json:"fileUrl"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fileUrl is required"})
		return
	}

	removed, err := s.cache.InvalidateFile(r.Context(), req.FileURL)
	if err != nil {
		// Partial invalidation still reports what was removed.
		s.logger.Warn("invalidation finished with errors", zap.String("file_url", req.FileURL), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fileUrl": req.FileURL,
		"removed": removed,
	})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	ip := r.URL.Query().Get("ip")
	if userID == "" && ip == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId or ip is required"})
		return
	}

	count, limit, err := s.validator.RateLimitStatus(r.Context(), userID, ip)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rate limit status unavailable"})
		return
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    userID,
		"ip":        ip,
		"count":     count,
		"limit":     limit,
		"remaining": remaining,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
