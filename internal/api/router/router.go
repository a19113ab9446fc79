package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/whatsapp-leads/internal/http/middleware"
	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	ServiceName    string
	Webhook        *whatsapp.WebhookHandler
	ReadAPI        *handlers.ReadAPIHandler
	Templates      *handlers.TemplateHandler
	LeadsHandler   *leads.Handler
	MetricsHandler http.Handler
	// HealthChecks are pinged on every GET /health.
	HealthChecks map[string]handlers.Pinger

	// Read API protection. An empty secret leaves the API open; a zero rate
	// disables rate limiting.
	ReadAPIJWTSecret   string
	ReadAPIRate        float64
	ReadAPIBurst       int
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	service := cfg.ServiceName
	if service == "" {
		service = "whatsapp-leads"
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health(service, cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			for _, path := range []string{"/webhook", "/webhooks/whatsapp"} {
				public.Get(path, cfg.Webhook.HandleVerification)
				public.Post(path, cfg.Webhook.HandleEvent)
			}
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.RateLimit(cfg.ReadAPIRate, cfg.ReadAPIBurst))
		api.Use(httpmiddleware.ReadAPIJWT(cfg.ReadAPIJWTSecret))

		if cfg.ReadAPI != nil {
			api.Get("/conversations/{phone}", cfg.ReadAPI.GetConversation)
			api.Get("/messages/recent", cfg.ReadAPI.RecentMessages)
			api.Get("/messages/{id}/status", cfg.ReadAPI.MessageStatus)
			api.Get("/stats", cfg.ReadAPI.Stats)
		}
		if cfg.LeadsHandler != nil {
			api.Get("/leads", cfg.LeadsHandler.ListLeads)
		}
		if cfg.Templates != nil {
			api.Post("/templates", cfg.Templates.Register)
			api.Get("/templates/{name}", cfg.Templates.Get)
		}
	})

	return r
}
