// Package relay serves the intermediary endpoint that forwards Bot API calls
// with the server-held bot token on behalf of authenticated admins.
package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bissquit/signal-relay/internal/pkg/ctxlog"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// AllowedEndpoints lists the Bot API methods the intermediary forwards.
var AllowedEndpoints = map[string]bool{
	"getUpdates":         true,
	"getChat":            true,
	"getMe":              true,
	"getChatMemberCount": true,
}

// Upstream performs raw Bot API calls.
type Upstream interface {
	Do(ctx context.Context, method string, params map[string]any) (int, []byte, error)
}

// Handler serves POST /telegram/proxy.
type Handler struct {
	upstream  Upstream
	limiter   *rate.Limiter
	validator *validator.Validate
}

// NewHandler creates a relay handler. ratePerSecond <= 0 disables local limiting.
func NewHandler(upstream Upstream, ratePerSecond float64) *Handler {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Handler{
		upstream:  upstream,
		limiter:   rate.NewLimiter(limit, max(1, int(ratePerSecond))),
		validator: validator.New(),
	}
}

// RegisterRoutes registers the relay route. The caller mounts it behind
// authentication and the admin role check.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/telegram/proxy", h.Forward)
}

// ForwardRequest is the relay request body.
type ForwardRequest struct {
	Method   string         `json:"method" validate:"omitempty,oneof=GET POST"`
	Endpoint string         `json:"endpoint" validate:"required"`
	Params   map[string]any `json:"params"`
}

// Envelope is the relay response body.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Status  int             `json:"status"`
}

// Forward handles POST /telegram/proxy.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	var req ForwardRequest
	if !httputil.BindJSON(w, r, h.validator, &req) {
		return
	}

	if !AllowedEndpoints[req.Endpoint] {
		httputil.Error(w, http.StatusBadRequest, "endpoint not allowed")
		return
	}

	if !h.limiter.Allow() {
		relayRequests.WithLabelValues(req.Endpoint, "throttled").Inc()
		httputil.JSON(w, http.StatusTooManyRequests, Envelope{
			Success: false,
			Status:  http.StatusTooManyRequests,
			Data:    json.RawMessage(`{"ok":false,"error_code":429,"description":"relay rate limit exceeded","parameters":{"retry_after":1}}`),
		})
		return
	}

	status, body, err := h.upstream.Do(r.Context(), req.Endpoint, req.Params)
	if err != nil {
		ctxlog.FromContext(r.Context()).Warn("relay upstream failed", "endpoint", req.Endpoint, "error", err)
		relayRequests.WithLabelValues(req.Endpoint, "upstream_error").Inc()
		httputil.JSON(w, http.StatusBadGateway, Envelope{
			Success: false,
			Status:  http.StatusBadGateway,
			Data:    json.RawMessage("null"),
		})
		return
	}

	if !json.Valid(body) {
		body = []byte("null")
	}
	ok := status >= 200 && status < 300
	relayRequests.WithLabelValues(req.Endpoint, resultLabel(ok)).Inc()

	httputil.JSON(w, http.StatusOK, Envelope{
		Success: ok,
		Status:  status,
		Data:    json.RawMessage(body),
	})
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "upstream_rejected"
}
