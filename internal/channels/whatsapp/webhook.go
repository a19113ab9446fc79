package whatsapp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

var tracer = otel.Tracer("whatsapp-leads.internal.channels.whatsapp")

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultEnqueueTimeout = 5 * time.Second
)

// Enqueuer hands a verified webhook body to an asynchronous worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

// WebhookConfig wires the webhook HTTP handler.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	// StrictSignatures rejects unverified POSTs with 401 instead of only logging them.
	StrictSignatures bool
	MaxBodyBytes     int64
	Dispatcher       *Dispatcher
	// Queue enables async mode when set. A failed or timed out enqueue falls
	// back to inline processing.
	Queue          Enqueuer
	EnqueueTimeout time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.WebhookMetrics
}

// WebhookHandler serves the provider's verification handshake and event deliveries.
type WebhookHandler struct {
	verifyToken    string
	appSecret      string
	strict         bool
	maxBodyBytes   int64
	dispatcher     *Dispatcher
	queue          Enqueuer
	enqueueTimeout time.Duration
	logger         *logging.Logger
	metrics        *metrics.WebhookMetrics
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	enqueueTimeout := cfg.EnqueueTimeout
	if enqueueTimeout <= 0 {
		enqueueTimeout = defaultEnqueueTimeout
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherConfig{Logger: logger, Metrics: cfg.Metrics})
	}
	return &WebhookHandler{
		verifyToken:    cfg.VerifyToken,
		appSecret:      cfg.AppSecret,
		strict:         cfg.StrictSignatures,
		maxBodyBytes:   maxBody,
		dispatcher:     dispatcher,
		queue:          cfg.Queue,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
}

// WebhookResponse is the POST response body.
type WebhookResponse struct {
	Status string `json:"status"`
	Counts
}

// HandleVerification answers the GET subscription handshake.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstNonEmpty(q.Get("hub.mode"), q.Get("mode"))
	token := firstNonEmpty(q.Get("hub.verify_token"), q.Get("verify_token"))
	challenge := firstNonEmpty(q.Get("hub.challenge"), q.Get("challenge"))

	if mode == "subscribe" && h.verifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1 {
		h.logger.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
		return
	}

	h.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleEvent processes a POSTed webhook delivery.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "EVENT_RECEIVED"})
		return
	}

	if !h.signatureOK(r, body) && h.strict {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	event, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("rejecting malformed webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// processing must outlive a provider that hangs up early
	ctx := context.WithoutCancel(r.Context())
	ctx, span := tracer.Start(ctx, "whatsapp.webhook")
	defer span.End()

	if h.queue != nil {
		enqueueCtx, cancel := context.WithTimeout(ctx, h.enqueueTimeout)
		err := h.queue.Enqueue(enqueueCtx, body)
		cancel()
		if err == nil {
			h.metrics.ObserveWebhookLatency("queued", time.Since(start).Seconds())
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "EVENT_QUEUED"})
			return
		}
		span.RecordError(err)
		h.logger.Error("webhook enqueue failed, processing inline", "error", err)
	}

	counts := h.dispatcher.DispatchEvent(ctx, event)
	span.SetAttributes(
		attribute.Int("whatsapp.messages", counts.Messages),
		attribute.Int("whatsapp.statuses", counts.Statuses),
		attribute.Int("whatsapp.failed", counts.Failed),
	)
	h.metrics.ObserveWebhookLatency("inline", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, WebhookResponse{Status: "EVENT_RECEIVED", Counts: counts})
}

func (h *WebhookHandler) signatureOK(r *http.Request, body []byte) bool {
	header := r.Header.Get(SignatureHeader)
	if h.appSecret == "" && !h.strict {
		return true
	}
	if VerifySignature(body, header, h.appSecret) {
		return true
	}
	h.metrics.ObserveSignatureFailure()
	h.logger.Warn("webhook signature verification failed",
		"has_header", header != "",
		"strict", h.strict,
	)
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
