// Package handler exposes the prompt store over HTTP. Routing and JSON
// shaping live here; all versioning decisions stay in the service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"promptvault/internal/platform/metrics"
	"promptvault/internal/platform/middleware"
	"promptvault/internal/prompt/audit"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/service"
	dErrors "promptvault/pkg/domain-errors"
)

// Service defines the version-manager operations the handlers need.
type Service interface {
	Propose(ctx context.Context, businessKey string, content models.Content, actor string, createIfAbsent bool) (*service.Result, error)
	GetCurrent(ctx context.Context, businessKey string) (*models.Version, error)
	GetHistory(ctx context.Context, businessKey string) ([]models.Version, error)
	Delete(ctx context.Context, businessKey, actor string) error
	GetAuditTrail(ctx context.Context, businessKey string, since time.Time) ([]audit.Entry, error)
	ListKeys(ctx context.Context) ([]string, error)
}

// Handler handles prompt endpoints.
type Handler struct {
	logger    *slog.Logger
	prompts   Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

func New(prompts Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		prompts:   prompts,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the prompt routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	promptRouter := chi.NewRouter()
	promptRouter.Use(middleware.Recovery(h.logger))
	promptRouter.Use(middleware.RequestID)
	promptRouter.Use(middleware.Logger(h.logger))
	promptRouter.Use(middleware.Timeout(30 * time.Second))
	promptRouter.Use(middleware.Latency(h.metrics))

	promptRouter.Get("/prompts", h.handleListKeys)
	promptRouter.Get("/prompts/{key}", h.handleGetCurrent)
	promptRouter.Get("/prompts/{key}/history", h.handleGetHistory)
	promptRouter.Get("/prompts/{key}/audit", h.handleGetAuditTrail)

	// Mutations require an authenticated actor for audit attribution.
	promptRouter.Group(func(g chi.Router) {
		g.Use(middleware.ContentTypeJSON)
		g.Use(middleware.RequireActor(h.validator, h.logger))
		g.Put("/prompts/{key}", h.handlePropose)
		g.Delete("/prompts/{key}", h.handleDelete)
	})

	r.Mount("/", promptRouter)
}

type proposeRequest struct {
	Content        models.Content `json:"content"`
	CreateIfAbsent bool           `json:"create_if_absent"`
}

type proposeResponse struct {
	Version   *models.Version `json:"version"`
	Unchanged bool            `json:"unchanged"`
}

// handlePropose offers new content for a key. 201 when the key is created,
// 200 when a version is appended or the content is unchanged.
func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	businessKey := chi.URLParam(r, "key")

	actor := middleware.GetActor(ctx)
	if actor == "" {
		h.logger.ErrorContext(ctx, "actor missing from context despite auth middleware",
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid propose request",
			"request_id", requestID,
			"business_key", businessKey,
			"error", err.Error(),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Content.MeantFor != "" && !req.Content.MeantFor.Valid() {
		WriteError(w, dErrors.New(dErrors.CodeSchemaViolation, "unknown meant_for classification"))
		return
	}

	res, err := h.prompts.Propose(ctx, businessKey, req.Content, actor, req.CreateIfAbsent)
	if err != nil {
		h.logError(ctx, "propose failed", businessKey, err)
		WriteError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Unchanged && res.Version.VersionID == 1 {
		status = http.StatusCreated
	}
	WriteJSON(w, status, proposeResponse{Version: res.Version, Unchanged: res.Unchanged})
}

func (h *Handler) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessKey := chi.URLParam(r, "key")

	version, err := h.prompts.GetCurrent(ctx, businessKey)
	if err != nil {
		h.logError(ctx, "get current failed", businessKey, err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, version)
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessKey := chi.URLParam(r, "key")

	versions, err := h.prompts.GetHistory(ctx, businessKey)
	if err != nil {
		h.logError(ctx, "get history failed", businessKey, err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// handleGetAuditTrail returns the key's transitions, optionally filtered by
// an RFC 3339 "since" query parameter.
func (h *Handler) handleGetAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessKey := chi.URLParam(r, "key")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "since must be an RFC 3339 timestamp"))
			return
		}
		since = parsed
	}

	entries, err := h.prompts.GetAuditTrail(ctx, businessKey, since)
	if err != nil {
		h.logError(ctx, "get audit trail failed", businessKey, err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessKey := chi.URLParam(r, "key")

	actor := middleware.GetActor(ctx)
	if actor == "" {
		WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	if err := h.prompts.Delete(ctx, businessKey, actor); err != nil {
		h.logError(ctx, "delete failed", businessKey, err)
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.prompts.ListKeys(r.Context())
	if err != nil {
		h.logError(r.Context(), "list keys failed", "", err)
		WriteError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// logError logs client errors at warn and everything else at error.
func (h *Handler) logError(ctx context.Context, msg, businessKey string, err error) {
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"business_key", businessKey,
		"error", err.Error(),
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeConflict, dErrors.CodeBadRequest, dErrors.CodeSchemaViolation:
		h.logger.WarnContext(ctx, msg, attrs...)
	default:
		h.logger.ErrorContext(ctx, msg, attrs...)
	}
}
