package audit

import (
	"net/http"
	"strconv"

	"github.com/bissquit/signal-relay/internal/domain"
	"github.com/bissquit/signal-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidFilter, Status: http.StatusBadRequest},
}

// Handler serves the audit log viewer API.
type Handler struct {
	writer *Writer
}

// NewHandler creates a new audit handler.
func NewHandler(writer *Writer) *Handler {
	return &Handler{writer: writer}
}

// RegisterRoutes registers admin audit routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/audit-log", h.List)
	r.Get("/admin/audit-log/actions", h.Actions)
}

// EntryView is an audit entry with display metadata resolved.
type EntryView struct {
	domain.AuditLogEntry
	Meta domain.AuditActionMeta `json:"meta"`
}

// List handles GET /admin/audit-log.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var limit int
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.writer.Query(r.Context(), Filter{
		Limit:  limit,
		Action: domain.AuditAction(q.Get("action")),
		Search: q.Get("q"),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{AuditLogEntry: e, Meta: e.Action.Meta()})
	}

	httputil.Success(w, http.StatusOK, views)
}

// ActionView pairs an action tag with its display metadata.
type ActionView struct {
	Action domain.AuditAction     `json:"action"`
	Meta   domain.AuditActionMeta `json:"meta"`
}

// Actions handles GET /admin/audit-log/actions.
func (h *Handler) Actions(w http.ResponseWriter, _ *http.Request) {
	actions := domain.AllAuditActions()
	views := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, ActionView{Action: a, Meta: a.Meta()})
	}
	httputil.Success(w, http.StatusOK, views)
}
