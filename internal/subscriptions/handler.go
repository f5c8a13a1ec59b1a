package subscriptions

import (
	"net/http"

	"github.com/bissquit/signal-relay/internal/channels"
	"github.com/bissquit/signal-relay/internal/identity"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: channels.ErrChannelNotFound, Status: http.StatusNotFound, Message: "channel not found"},
	{Error: ErrChannelInactive, Status: http.StatusConflict},
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound},
	{Error: identity.ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
}

// Handler handles HTTP requests for subscriptions.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new subscriptions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validator: validator.New()}
}

// RegisterProtectedRoutes registers routes available to every signed-in user.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/channels/{id}/subscription", h.Subscribe)
	r.Delete("/channels/{id}/subscription", h.Cancel)
	r.Get("/me/subscriptions", h.ListMine)
}

// RegisterAdminRoutes registers the payment confirmation route.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/admin/subscriptions/confirm", h.ConfirmPayment)
}

// PaymentRequiredResponse is the 402 body for paid channels.
type PaymentRequiredResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Data *Result `json:"data"`
}

// Subscribe handles POST /channels/{id}/subscription.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Subscribe(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if res.Status == ResultPaymentRequired {
		var body PaymentRequiredResponse
		body.Error.Message = "payment required"
		body.Data = res
		httputil.JSON(w, http.StatusPaymentRequired, body)
		return
	}
	httputil.Success(w, http.StatusOK, res)
}

// Cancel handles DELETE /channels/{id}/subscription.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMine handles GET /me/subscriptions.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListUserSubscriptions(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, subs)
}

// ConfirmPaymentRequest represents request body for confirming a paid subscription.
type ConfirmPaymentRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
}

// ConfirmPayment handles POST /admin/subscriptions/confirm.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	sub, err := h.service.ConfirmPayment(r.Context(), httputil.GetActor(r), req.UserID, req.ChannelID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sub)
}
