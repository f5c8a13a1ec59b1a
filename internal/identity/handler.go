package identity

import (
	"net/http"

	"github.com/bissquit/signal-relay/internal/audit"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Error: ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
	{Error: ErrCannotModifySelf, Status: http.StatusConflict},
	{Error: audit.ErrInvalidEntry, Status: http.StatusInternalServerError, Message: "audit write failed"},
}

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

// RegisterAdminRoutes registers user administration routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/users", h.ListUsers)
	r.Post("/admin/users/{id}/admin", h.GrantAdmin)
	r.Delete("/admin/users/{id}/admin", h.RevokeAdmin)
	r.Post("/admin/users/{id}/block", h.SetBlocked)
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// ListUsers handles GET /admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, users)
}

// GrantAdmin handles POST /admin/users/{id}/admin.
func (h *Handler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GrantAdmin(r.Context(), httputil.GetActor(r), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// RevokeAdmin handles DELETE /admin/users/{id}/admin.
func (h *Handler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.RevokeAdmin(r.Context(), httputil.GetActor(r), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// SetBlockedRequest represents request body for blocking a user.
type SetBlockedRequest struct {
	Blocked *bool `json:"blocked" validate:"required"`
}

// SetBlocked handles POST /admin/users/{id}/block.
func (h *Handler) SetBlocked(w http.ResponseWriter, r *http.Request) {
	var req SetBlockedRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	user, err := h.service.SetBlocked(r.Context(), httputil.GetActor(r), chi.URLParam(r, "id"), *req.Blocked)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}
