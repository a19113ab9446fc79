package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandleVerification(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{VerifyToken: "my_verify_token"})

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"valid challenge", "hub.mode=subscribe&hub.verify_token=my_verify_token&hub.challenge=CHALLENGE_123", http.StatusOK, "CHALLENGE_123"},
		{"bare parameter names", "mode=subscribe&verify_token=my_verify_token&challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=X", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=my_verify_token&hub.challenge=X", http.StatusForbidden, ""},
		{"missing params", "", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			w := httptest.NewRecorder()
			h.HandleVerification(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Fatalf("expected body %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestHandleVerificationRequiresConfiguredToken(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{})
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=X", nil)
	w := httptest.NewRecorder()
	h.HandleVerification(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no configured token, got %d", w.Code)
	}
}

func postWebhook(h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	h.HandleEvent(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	var resp WebhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandleEventProcessesInline(t *testing.T) {
	d, rec := newRecordingDispatcher()
	h := NewWebhookHandler(WebhookConfig{AppSecret: "secret", Dispatcher: d})

	w := postWebhook(h, mixedPayload, Sign([]byte(mixedPayload), "secret"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Status != "EVENT_RECEIVED" || resp.Messages != 2 || resp.Statuses != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(rec.inbound) != 2 {
		t.Fatalf("expected handlers to run, got %d inbound", len(rec.inbound))
	}
}

func TestHandleEventEmptyAndMalformedBodies(t *testing.T) {
	d, rec := newRecordingDispatcher()
	h := NewWebhookHandler(WebhookConfig{Dispatcher: d})

	w := postWebhook(h, "  ", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty body: expected 200, got %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Status != "EVENT_RECEIVED" || resp.Entries != 0 {
		t.Fatalf("empty body: unexpected response %+v", resp)
	}

	w = postWebhook(h, `{"entry": [`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", w.Code)
	}
	if len(rec.inbound)+len(rec.statuses)+len(rec.templates) != 0 {
		t.Fatal("malformed body must not reach handlers")
	}
}

func TestHandleEventSignatureModes(t *testing.T) {
	t.Run("lenient logs and continues", func(t *testing.T) {
		d, rec := newRecordingDispatcher()
		h := NewWebhookHandler(WebhookConfig{AppSecret: "secret", Dispatcher: d})
		w := postWebhook(h, mixedPayload, "sha256=deadbeef")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if len(rec.inbound) != 2 {
			t.Fatal("expected processing despite bad signature")
		}
	})

	t.Run("strict rejects", func(t *testing.T) {
		d, rec := newRecordingDispatcher()
		h := NewWebhookHandler(WebhookConfig{AppSecret: "secret", StrictSignatures: true, Dispatcher: d})
		w := postWebhook(h, mixedPayload, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if len(rec.inbound) != 0 {
			t.Fatal("strict mode must not process unverified events")
		}
	})

	t.Run("strict accepts valid signature", func(t *testing.T) {
		d, _ := newRecordingDispatcher()
		h := NewWebhookHandler(WebhookConfig{AppSecret: "secret", StrictSignatures: true, Dispatcher: d})
		w := postWebhook(h, mixedPayload, Sign([]byte(mixedPayload), "secret"))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})
}

func TestHandleEventBodyLimit(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{MaxBodyBytes: 16})
	w := postWebhook(h, `{"object":"whatsapp_business_account","entry":[]}`, "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

type stubQueue struct {
	bodies [][]byte
	err    error
}

func (q *stubQueue) Enqueue(_ context.Context, body []byte) error {
	if q.err != nil {
		return q.err
	}
	q.bodies = append(q.bodies, body)
	return nil
}

func TestHandleEventAsync(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		d, rec := newRecordingDispatcher()
		q := &stubQueue{}
		h := NewWebhookHandler(WebhookConfig{Dispatcher: d, Queue: q})
		w := postWebhook(h, mixedPayload, "")
		if resp := decodeResponse(t, w); resp.Status != "EVENT_QUEUED" {
			t.Fatalf("expected queued response, got %+v", resp)
		}
		if len(q.bodies) != 1 || len(rec.inbound) != 0 {
			t.Fatalf("expected body queued without inline processing")
		}
	})

	t.Run("enqueue failure falls back inline", func(t *testing.T) {
		d, rec := newRecordingDispatcher()
		h := NewWebhookHandler(WebhookConfig{Dispatcher: d, Queue: &stubQueue{err: errors.New("sqs unavailable")}})
		w := postWebhook(h, mixedPayload, "")
		if resp := decodeResponse(t, w); resp.Status != "EVENT_RECEIVED" {
			t.Fatalf("expected inline response, got %+v", resp)
		}
		if len(rec.inbound) != 2 {
			t.Fatal("expected inline processing after enqueue failure")
		}
	})

	t.Run("stalled enqueue times out and falls back inline", func(t *testing.T) {
		d, rec := newRecordingDispatcher()
		h := NewWebhookHandler(WebhookConfig{Dispatcher: d, Queue: blockingQueue{}, EnqueueTimeout: 20 * time.Millisecond})

		done := make(chan *httptest.ResponseRecorder, 1)
		go func() { done <- postWebhook(h, mixedPayload, "") }()

		var w *httptest.ResponseRecorder
		select {
		case w = <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("webhook blocked on a stalled queue")
		}
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if resp := decodeResponse(t, w); resp.Status != "EVENT_RECEIVED" {
			t.Fatalf("expected inline response, got %+v", resp)
		}
		if len(rec.inbound) != 2 {
			t.Fatal("expected inline processing after enqueue timeout")
		}
	})
}

// blockingQueue never accepts a body; it returns only once ctx is done.
type blockingQueue struct{}

func (blockingQueue) Enqueue(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

type ctxCheckingHandler struct {
	recordingHandlers
	sawCanceled bool
}

func (c *ctxCheckingHandler) HandleInbound(ctx context.Context, msg InboundMessage) error {
	c.sawCanceled = ctx.Err() != nil
	return nil
}

func TestHandleEventSurvivesClientCancellation(t *testing.T) {
	handler := &ctxCheckingHandler{}
	h := NewWebhookHandler(WebhookConfig{Dispatcher: NewDispatcher(DispatcherConfig{Inbound: handler})})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(mixedPayload)).WithContext(ctx)
	w := httptest.NewRecorder()
	h.HandleEvent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if handler.sawCanceled {
		t.Fatal("processing context must not inherit client cancellation")
	}
}
