package notifications

import (
	"net/http"
	"strconv"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrDeviceTokenNotFound, Status: http.StatusNotFound, Message: "device not found"},
	{Error: ErrInvalidPlatform, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/me/notifications", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/unread-count", h.UnreadCount)
		r.Post("/{id}/read", h.MarkRead)
	})

	r.Post("/me/devices", h.RegisterDevice)
	r.Delete("/me/devices/{token}", h.UnregisterDevice)
}

// List handles GET /me/notifications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f ListFilter
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	f.UnreadOnly = q.Get("unread") == "true"

	list, err := h.service.ListForUser(r.Context(), httputil.GetUserID(r.Context()), f)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, list)
}

// UnreadCountResponse is the unread counter.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// UnreadCount handles GET /me/notifications/unread-count.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, UnreadCountResponse{Unread: n})
}

// MarkRead handles POST /me/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.HandleError(r.Context(), w, ErrNotificationNotFound, errorMappings)
		return
	}

	if err := h.service.MarkRead(r.Context(), httputil.GetUserID(r.Context()), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterDeviceRequest represents request body for registering a push token.
type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

// RegisterDevice handles POST /me/devices.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	dt, err := h.service.RegisterDevice(r.Context(), httputil.GetUserID(r.Context()), req.Token, domain.DevicePlatform(req.Platform))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, dt)
}

// UnregisterDevice handles DELETE /me/devices/{token}.
func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnregisterDevice(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "token")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
