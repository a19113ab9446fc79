// Package handlers serves the read API over stored leads, conversations,
// messages and templates.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/whatsapp-leads/internal/http/respond"
	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

const (
	defaultRecentLimit       = 50
	maxRecentLimit           = 200
	defaultConversationLimit = 100
	maxConversationLimit     = 500
)

// ReadStore is the query side of store.Repository.
type ReadStore interface {
	Conversation(ctx context.Context, phoneKey string, limit int) (store.Conversation, error)
	RecentMessages(ctx context.Context, phoneKey string, limit int) ([]messaging.Message, error)
	Message(ctx context.Context, id string) (messaging.Message, error)
	Stats(ctx context.Context, phoneKey string) (messaging.Stats, error)
}

// ReadAPIHandler serves conversation and message lookups.
type ReadAPIHandler struct {
	store      ReadStore
	normalizer messaging.PhoneNormalizer
	logger     *logging.Logger
}

func NewReadAPIHandler(s ReadStore, normalizer messaging.PhoneNormalizer, logger *logging.Logger) *ReadAPIHandler {
	if s == nil {
		panic("handlers: read store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReadAPIHandler{store: s, normalizer: normalizer, logger: logger}
}

// ConversationResponse is a lead with its ordered turns.
type ConversationResponse struct {
	PhoneKey string           `json:"phone_key"`
	Lead     leads.Lead       `json:"lead"`
	Turns    []messaging.Turn `json:"turns"`
	Count    int              `json:"count"`
}

// GetConversation handles GET /api/conversations/{phone}?limit=
func (h *ReadAPIHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "phone")
	if strings.TrimSpace(raw) == "" {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "phone is required")
		return
	}
	phoneKey := h.normalizer.Normalize(raw)
	limit, ok := parseLimit(w, r, defaultConversationLimit, maxConversationLimit)
	if !ok {
		return
	}

	conv, err := h.store.Conversation(r.Context(), phoneKey, limit)
	if err != nil {
		h.logger.Warn("conversation lookup failed", "phone_key", phoneKey, "error", err)
		respond.FromError(w, err, leads.ErrLeadNotFound)
		return
	}
	turns := conv.Turns
	if turns == nil {
		turns = []messaging.Turn{}
	}
	respond.JSON(w, http.StatusOK, ConversationResponse{
		PhoneKey: phoneKey,
		Lead:     conv.Lead,
		Turns:    turns,
		Count:    len(turns),
	})
}

// RecentMessagesResponse lists messages newest first.
type RecentMessagesResponse struct {
	Messages []messaging.Message `json:"messages"`
	Count    int                 `json:"count"`
}

// RecentMessages handles GET /api/messages/recent?phone=&limit=
func (h *ReadAPIHandler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultRecentLimit, maxRecentLimit)
	if !ok {
		return
	}
	phoneKey := h.phoneFilter(r)

	msgs, err := h.store.RecentMessages(r.Context(), phoneKey, limit)
	if err != nil {
		h.logger.Error("recent messages lookup failed", "phone_key", phoneKey, "error", err)
		respond.FromError(w, err)
		return
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	respond.JSON(w, http.StatusOK, RecentMessagesResponse{Messages: msgs, Count: len(msgs)})
}

// MessageStatusResponse is the delivery state of one message.
type MessageStatusResponse struct {
	ID           string              `json:"id"`
	Status       messaging.Status    `json:"status"`
	Direction    messaging.Direction `json:"direction"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	UpdatedAt    string              `json:"updated_at"`
}

// MessageStatus handles GET /api/messages/{id}/status
func (h *ReadAPIHandler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "message id is required")
		return
	}

	msg, err := h.store.Message(r.Context(), id)
	if err != nil {
		respond.FromError(w, err, messaging.ErrMessageNotFound)
		return
	}
	respond.JSON(w, http.StatusOK, MessageStatusResponse{
		ID:           msg.ID,
		Status:       msg.Status,
		Direction:    msg.Direction,
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		UpdatedAt:    msg.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /api/stats?phone=
func (h *ReadAPIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	phoneKey := h.phoneFilter(r)
	stats, err := h.store.Stats(r.Context(), phoneKey)
	if err != nil {
		h.logger.Error("stats lookup failed", "phone_key", phoneKey, "error", err)
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

func (h *ReadAPIHandler) phoneFilter(r *http.Request) string {
	raw := r.URL.Query().Get("phone")
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return h.normalizer.Normalize(raw)
}

func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		respond.Error(w, http.StatusBadRequest, respond.CodeBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(limit, max), true
}
