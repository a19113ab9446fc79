package leads

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfman30/whatsapp-leads/internal/http/respond"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Lister is the read side of lead storage used by Handler.
type Lister interface {
	ListLeads(ctx context.Context, filter ListFilter) ([]Lead, error)
}

// Handler serves the lead read API.
type Handler struct {
	leads  Lister
	logger *logging.Logger
}

func NewHandler(leads Lister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{leads: leads, logger: logger}
}

// ListLeadsResponse is the response for listing leads
type ListLeadsResponse struct {
	Leads  []Lead `json:"leads"`
	Count  int    `json:"count"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// ListLeads handles GET /api/leads?status=&limit=&offset=
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Limit: defaultListLimit}
	query := r.URL.Query()

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}
	if status := strings.ToLower(strings.TrimSpace(query.Get("status"))); status != "" {
		filter.Status = Status(status)
		if !filter.Status.Valid() {
			respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "unknown lead status "+strconv.Quote(status))
			return
		}
	}

	leads, err := h.leads.ListLeads(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err, "status", filter.Status)
		respond.FromError(w, err)
		return
	}
	if leads == nil {
		leads = []Lead{}
	}

	respond.JSON(w, http.StatusOK, ListLeadsResponse{
		Leads:  leads,
		Count:  len(leads),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}
