package channels

import (
	"net/http"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/identity"
	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrChannelNotFound, Status: http.StatusNotFound, Message: "channel not found"},
	{Error: ErrInvalidTerms, Status: http.StatusBadRequest},
	{Error: identity.ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
}

// Handler handles HTTP requests for the channel registry.
type Handler struct {
	service    *Service
	discoverer *Discoverer
	validator  *validator.Validate
}

// NewHandler creates a new channels handler. discoverer may be nil.
func NewHandler(service *Service, discoverer *Discoverer) *Handler {
	return &Handler{
		service:    service,
		discoverer: discoverer,
		validator:  validator.New(),
	}
}

// RegisterProtectedRoutes registers routes available to every signed-in user.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/channels", h.ListActive)
	r.Get("/channels/{id}", h.Get)
}

// RegisterAdminRoutes registers channel administration routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/channels", h.ListAll)
	r.Patch("/admin/channels/{id}/active", h.SetActive)
	r.Put("/admin/channels/{id}/terms", h.SetTerms)
	r.Post("/admin/channels/discover", h.Discover)
}

// ListActive handles GET /channels.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListActiveChannels(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, list)
}

// Get handles GET /channels/{id}. Inactive channels are not visible.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := h.service.GetChannel(r.Context(), chi.URLParam(r, "id"))
	if err == nil && !ch.IsActive {
		err = ErrChannelNotFound
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, ch)
}

// ListAll handles GET /admin/channels.
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListChannels(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, list)
}

// SetActiveRequest represents request body for enabling or disabling a channel.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetActive handles PATCH /admin/channels/{id}/active.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	ch, err := h.service.SetChannelActive(r.Context(), httputil.GetActor(r), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, ch)
}

// SetTermsRequest represents request body for changing subscription terms.
type SetTermsRequest struct {
	SubscriptionType  domain.SubscriptionType `json:"subscription_type" validate:"required,oneof=free paid"`
	SubscriptionPrice *decimal.Decimal        `json:"subscription_price"`
}

// SetTerms handles PUT /admin/channels/{id}/terms.
func (h *Handler) SetTerms(w http.ResponseWriter, r *http.Request) {
	var req SetTermsRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	ch, err := h.service.SetSubscriptionTerms(
		r.Context(),
		httputil.GetActor(r),
		chi.URLParam(r, "id"),
		req.SubscriptionType,
		req.SubscriptionPrice,
	)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, ch)
}

// Discover handles POST /admin/channels/discover.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	if h.discoverer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "channel discovery is not configured")
		return
	}

	res, err := h.discoverer.RunOnce(r.Context())
	if err != nil {
		ctxlog.FromContext(r.Context()).Warn("channel discovery failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "failed to list channels on the network")
		return
	}
	httputil.Success(w, http.StatusOK, res)
}
