package poller

import (
	"net/http"

	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrPollingDisabled, Status: http.StatusConflict, Message: "telegram polling is disabled in settings"},
}

// Handler exposes poller control to admins.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new poller handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterAdminRoutes registers poller control routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/poller/status", h.Status)
	r.Post("/admin/poller/start", h.Start)
	r.Post("/admin/poller/stop", h.Stop)
	r.Post("/admin/poller/restart", h.Restart)
}

// Status handles GET /admin/poller/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.engine.Status())
}

// Start handles POST /admin/poller/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Start(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, status)
}

// Stop handles POST /admin/poller/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.engine.Stop(r.Context()))
}

// Restart handles POST /admin/poller/restart.
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Restart(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, status)
}
