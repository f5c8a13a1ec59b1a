package settings

import (
	"net/http"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/identity"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSettingsNotFound, Status: http.StatusNotFound},
	{Error: identity.ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
}

// Handler handles HTTP requests for app settings.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new settings handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// RegisterAdminRoutes registers settings routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/settings", h.Get)
	r.Put("/admin/settings", h.Update)
}

// Get handles GET /admin/settings.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Get(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, s)
}

// UpdateRequest represents request body for updating settings.
type UpdateRequest struct {
	Telegram struct {
		Enabled  *bool `json:"enabled" validate:"required"`
		UseProxy *bool `json:"use_proxy" validate:"required"`
	} `json:"telegram"`
}

// Update handles PUT /admin/settings.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	s, err := h.service.Update(r.Context(), httputil.GetActor(r), domain.TelegramSettings{
		Enabled:  *req.Telegram.Enabled,
		UseProxy: *req.Telegram.UseProxy,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, s)
}
