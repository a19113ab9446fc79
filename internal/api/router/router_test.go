package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/conversation"
	"github.com/wolfman30/whatsapp-leads/internal/delivery"
	"github.com/wolfman30/whatsapp-leads/internal/http/handlers"
	"github.com/wolfman30/whatsapp-leads/internal/ingest"
	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) SendMessage(_ context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+":"+body)
	return "wamid.reply", nil
}

type testEnv struct {
	router     http.Handler
	repo       *store.Repository
	sender     *recordingSender
	dispatcher *whatsapp.Dispatcher
}

type envOption func(*Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewWebhookMetrics(reg)
	repo := store.NewRepository(store.NewMemoryBackend(), store.WithLogger(logger))
	normalizer := messaging.NewPhoneNormalizer("91")
	sender := &recordingSender{}

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Repository: repo,
		Normalizer: normalizer,
		Replies: conversation.NewReplyService(conversation.ReplyConfig{
			Client: conversation.StaticLLMClient{Text: "Thanks, we will call you shortly."},
			Logger: logger,
		}),
		Sender:  sender,
		Logger:  logger,
		Metrics: m,
	})
	dispatcher := whatsapp.NewDispatcher(whatsapp.DispatcherConfig{
		Inbound:   pipeline,
		Statuses:  ingest.NewStatusReconciler(repo, logger, m),
		Templates: ingest.NewTemplateStatusReconciler(repo, logger, m),
		Logger:    logger,
		Metrics:   m,
	})

	cfg := &Config{
		Logger: logger,
		Webhook: whatsapp.NewWebhookHandler(whatsapp.WebhookConfig{
			VerifyToken: testVerifyToken,
			AppSecret:   testAppSecret,
			Dispatcher:  dispatcher,
			Logger:      logger,
			Metrics:     m,
		}),
		ReadAPI:        handlers.NewReadAPIHandler(repo, normalizer, logger),
		Templates:      handlers.NewTemplateHandler(repo, logger),
		LeadsHandler:   leads.NewHandler(repo, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HealthChecks:   map[string]handlers.Pinger{"store": repo},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &testEnv{router: New(cfg), repo: repo, sender: sender, dispatcher: dispatcher}
}

func (e *testEnv) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postWebhook(body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/webhook", body, map[string]string{
		"Content-Type":            "application/json",
		whatsapp.SignatureHeader: whatsapp.Sign([]byte(body), testAppSecret),
	})
}

const inboundHi = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "PNID"},
        "contacts": [{"profile": {"name": "Asha"}, "wa_id": "919876543210"}],
        "messages": [{"from": "919876543210", "id": "wamid.in1", "timestamp": "1718000000", "type": "text", "text": {"body": "Hi"}}]
      }
    }]
  }]
}`

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp handlers.HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.postWebhook(inboundHi)

	rr := env.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "whatsapp_leads_") {
		t.Errorf("expected webhook metrics in output")
	}
}

func TestInboundMessageRecordedAndAnswered(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postWebhook(inboundHi)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp whatsapp.WebhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	if resp.Status != "EVENT_RECEIVED" || resp.Messages != 1 || resp.Failed != 0 {
		t.Fatalf("unexpected webhook response: %+v", resp)
	}

	ctx := context.Background()
	conv, err := env.repo.Conversation(ctx, "919876543210", 0)
	if err != nil {
		t.Fatalf("conversation lookup: %v", err)
	}
	if conv.Lead.Name != "Asha" {
		t.Errorf("expected lead name Asha, got %q", conv.Lead.Name)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(conv.Turns))
	}

	in, err := env.repo.Message(ctx, "wamid.in1")
	if err != nil {
		t.Fatalf("inbound message lookup: %v", err)
	}
	if in.Direction != messaging.DirectionInbound || in.Body != "Hi" || in.Status != messaging.StatusReceived {
		t.Errorf("unexpected inbound message: %+v", in)
	}
	out, err := env.repo.Message(ctx, "wamid.reply")
	if err != nil {
		t.Fatalf("outbound message lookup: %v", err)
	}
	if out.Direction != messaging.DirectionOutbound || out.Status != messaging.StatusSent {
		t.Errorf("unexpected outbound message: %+v", out)
	}
	if len(env.sender.sent) != 1 || env.sender.sent[0] != "919876543210:Thanks, we will call you shortly." {
		t.Errorf("unexpected sends: %v", env.sender.sent)
	}

	// redelivery of the same provider message is absorbed
	env.postWebhook(inboundHi)
	list, err := env.repo.ListLeads(ctx, leads.ListFilter{})
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 lead after redelivery, got %d", len(list))
	}
	if len(env.sender.sent) != 1 {
		t.Errorf("expected no second reply, got %d sends", len(env.sender.sent))
	}
}

func TestFullQueueFallsBackToInlineProcessing(t *testing.T) {
	env := newTestEnv(t)
	queue := delivery.NewMemoryQueue(1)
	if err := queue.Send(context.Background(), "occupied"); err != nil {
		t.Fatalf("fill queue: %v", err)
	}
	env.router = New(&Config{
		Webhook: whatsapp.NewWebhookHandler(whatsapp.WebhookConfig{
			AppSecret:  testAppSecret,
			Dispatcher: env.dispatcher,
			Queue:      delivery.NewPublisher(queue),
		}),
	})

	rr := env.postWebhook(inboundHi)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp whatsapp.WebhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	if resp.Status != "EVENT_RECEIVED" || resp.Messages != 1 {
		t.Fatalf("expected inline response, got %+v", resp)
	}
	if _, err := env.repo.Message(context.Background(), "wamid.in1"); err != nil {
		t.Fatalf("expected inbound message recorded inline: %v", err)
	}
	if queue.Len() != 1 {
		t.Errorf("expected queue untouched, got %d", queue.Len())
	}
}

func TestDeliveredStatusUpdatesOnlyStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seeded := env.repo.RecordOutboundTurn(ctx, store.OutboundTurn{
		PhoneKey:          "9115551234",
		ProviderMessageID: "wamid.123",
		Body:              "Your appointment is confirmed",
	})
	if err := seeded.Err(); err != nil {
		t.Fatalf("seed outbound: %v", err)
	}
	before, _ := env.repo.Message(ctx, "wamid.123")

	body := `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"statuses":[{"id":"wamid.123","status":"delivered","timestamp":"1718000100","recipient_id":"15551234"}]}}]}]}`
	rr := env.postWebhook(body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	after, err := env.repo.Message(ctx, "wamid.123")
	if err != nil {
		t.Fatalf("message lookup: %v", err)
	}
	if after.Status != messaging.StatusDelivered {
		t.Fatalf("expected delivered, got %s", after.Status)
	}
	if after.Body != before.Body || after.PhoneKey != before.PhoneKey || after.Direction != before.Direction ||
		after.SenderRole != before.SenderRole || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("status update touched other fields: before %+v after %+v", before, after)
	}

	rr = env.do(http.MethodGet, "/api/messages/wamid.123/status", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"delivered"`) {
		t.Errorf("unexpected status API response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStatusForUnknownMessageCreatesNothing(t *testing.T) {
	env := newTestEnv(t)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.ghost","status":"read","recipient_id":"15551234"}]}}]}]}`
	rr := env.postWebhook(body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	stats, err := env.repo.Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected no messages, got %d", stats.Total)
	}
}

func TestWebhookVerification(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/webhook", "/webhooks/whatsapp"} {
		rr := env.do(http.MethodGet, path+"?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=abc123", "", nil)
		if rr.Code != http.StatusOK || rr.Body.String() != "abc123" {
			t.Errorf("%s: expected 200 abc123, got %d %q", path, rr.Code, rr.Body.String())
		}

		rr = env.do(http.MethodGet, path+"?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc123", "", nil)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for wrong token, got %d", path, rr.Code)
		}
	}
}

func TestMalformedWebhookWritesNothing(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postWebhook(`{"object": "whatsapp_business_account", "entry": [`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	ctx := context.Background()
	list, err := env.repo.ListLeads(ctx, leads.ListFilter{})
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	stats, err := env.repo.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(list) != 0 || stats.Total != 0 {
		t.Errorf("expected no rows, got %d leads and %d messages", len(list), stats.Total)
	}
}

func TestEmptyWebhookBodyIsNoop(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/webhooks/whatsapp", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestReadAPIRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.postWebhook(inboundHi)

	for _, route := range []string{
		"/api/conversations/919876543210",
		"/api/messages/recent?limit=5",
		"/api/messages/wamid.in1/status",
		"/api/leads",
		"/api/stats",
	} {
		rr := env.do(http.MethodGet, route, "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", route, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(http.MethodPost, "/api/templates", `{"name":"welcome","body":"Hello {{1}}"}`, map[string]string{"Content-Type": "application/json"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("template register: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodGet, "/api/templates/welcome", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("template get: expected 200, got %d", rr.Code)
	}
}

func TestReadAPIRequiresTokenWhenConfigured(t *testing.T) {
	const secret = "read-secret"
	env := newTestEnv(t, func(cfg *Config) { cfg.ReadAPIJWTSecret = secret })

	rr := env.do(http.MethodGet, "/api/stats", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"AUTH_FAILED"`) {
		t.Errorf("expected AUTH_FAILED code, got %s", rr.Body.String())
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "dashboard"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rr = env.do(http.MethodGet, "/api/stats", "", map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	// webhooks stay public
	rr = env.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=x", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected webhook verification to bypass read auth, got %d", rr.Code)
	}
}

func TestReadAPIRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ReadAPIRate = 1
		cfg.ReadAPIBurst = 1
	})

	if rr := env.do(http.MethodGet, "/api/stats", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}
	rr := env.do(http.MethodGet, "/api/stats", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}
}
