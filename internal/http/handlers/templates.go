package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/whatsapp-leads/internal/http/respond"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// Provider template names are lowercase alphanumerics and underscores.
var templateNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,512}$`)

const maxTemplateRequestBytes = 64 << 10

// TemplateStore registers and reads message templates.
type TemplateStore interface {
	RegisterTemplate(ctx context.Context, tmpl templates.Template) (templates.Template, error)
	Template(ctx context.Context, name string) (templates.Template, error)
}

// TemplateHandler records templates locally so later provider lifecycle
// events have something to update.
type TemplateHandler struct {
	store  TemplateStore
	logger *logging.Logger
}

func NewTemplateHandler(s TemplateStore, logger *logging.Logger) *TemplateHandler {
	if s == nil {
		panic("handlers: template store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TemplateHandler{store: s, logger: logger}
}

type RegisterTemplateRequest struct {
	Name     string `json:"name"`
	Body     string `json:"body"`
	Category string `json:"category"`
	Language string `json:"language"`
}

// Register handles POST /api/templates. Re-registering a name updates its
// content and leaves its status alone.
func (h *TemplateHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterTemplateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTemplateRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "invalid request body")
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if !templateNamePattern.MatchString(req.Name) {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "name must be lowercase letters, digits or underscores")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "body is required")
		return
	}
	category := strings.ToUpper(strings.TrimSpace(req.Category))
	if category == "" {
		category = "UTILITY"
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "en_US"
	}

	tmpl, err := h.store.RegisterTemplate(r.Context(), templates.Template{
		Name:     req.Name,
		Body:     req.Body,
		Category: category,
		Language: language,
	})
	if err != nil {
		h.logger.Error("template registration failed", "template", req.Name, "error", err)
		respond.FromError(w, err)
		return
	}
	h.logger.Info("template registered", "template", tmpl.Name, "status", tmpl.Status)
	respond.JSON(w, http.StatusCreated, tmpl)
}

// Get handles GET /api/templates/{name}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "name")))
	tmpl, err := h.store.Template(r.Context(), name)
	if err != nil {
		respond.FromError(w, err, templates.ErrTemplateNotFound)
		return
	}
	respond.JSON(w, http.StatusOK, tmpl)
}
