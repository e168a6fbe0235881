// Package http serves the operator endpoints: cache toggle, flush trigger,
// health probes and metrics.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auth-platform/savecache-service/internal/flush"
	"github.com/auth-platform/savecache-service/internal/save"
)

// CacheToggle switches the write-back cache.
type CacheToggle interface {
	IsEnabled() bool
	SetEnabled(ctx context.Context, enabled bool) (flush.Toggle, error)
}

// FlushRunner drains cached entries.
type FlushRunner interface {
	Flush(ctx context.Context, kind save.Kind) (flush.Report, error)
	FlushAll(ctx context.Context) (flush.Summary, error)
	Pending(ctx context.Context) (map[save.Kind]int, error)
}

// AdminHandler serves /admin/cache.
type AdminHandler struct {
	toggle       CacheToggle
	flusher      FlushRunner
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewAdminHandler creates the operator handler. flushTimeout bounds manual
// flushes and disable-triggered drains.
func NewAdminHandler(toggle CacheToggle, flusher FlushRunner, flushTimeout time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{toggle: toggle, flusher: flusher, flushTimeout: flushTimeout, logger: logger}
}

// StatusResponse reports the cache flag and pending entries per kind.
type StatusResponse struct {
	Enabled bool              `json:"enabled"`
	Pending map[save.Kind]int `json:"pending"`
}

// ToggleRequest is the PUT /admin/cache body.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// FlushResponse reports a manual flush.
type FlushResponse struct {
	Persisted int            `json:"persisted"`
	Failed    int            `json:"failed"`
	Reports   []flush.Report `json:"reports"`
}

// Status handles GET /admin/cache
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.flusher.Pending(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Enabled: h.toggle.IsEnabled(), Pending: pending})
}

// SetEnabled handles PUT /admin/cache
func (h *AdminHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}
	if req.Enabled == nil {
		WriteBadRequest(w, r, "enabled is required")
		return
	}

	ctx, cancel := h.flushContext(w, r)
	defer cancel()

	t, err := h.toggle.SetEnabled(ctx, *req.Enabled)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// FlushAll handles POST /admin/cache/flush
func (h *AdminHandler) FlushAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.flushContext(w, r)
	defer cancel()

	summary, err := h.flusher.FlushAll(ctx)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlushResponse{
		Persisted: summary.Persisted(),
		Failed:    summary.Failed(),
		Reports:   summary.Reports,
	})
}

// FlushKind handles POST /admin/cache/flush/{kind}
func (h *AdminHandler) FlushKind(w http.ResponseWriter, r *http.Request) {
	kind, err := save.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	ctx, cancel := h.flushContext(w, r)
	defer cancel()

	report, err := h.flusher.Flush(ctx, kind)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlushResponse{
		Persisted: report.Persisted,
		Failed:    len(report.Failures),
		Reports:   []flush.Report{report},
	})
}

// flushContext bounds a drain and extends the write deadline past the
// server default so the report can still be written.
func (h *AdminHandler) flushContext(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc) {
	if h.flushTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.flushTimeout + 5*time.Second)); err != nil && h.logger != nil {
		h.logger.DebugContext(r.Context(), "write deadline not extended", slog.String("error", err.Error()))
	}
	return context.WithTimeout(r.Context(), h.flushTimeout)
}
