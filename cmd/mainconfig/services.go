package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/whatsapp-leads/internal/config"
	"github.com/wolfman30/whatsapp-leads/internal/conversation"
	"github.com/wolfman30/whatsapp-leads/internal/http/handlers"
	"github.com/wolfman30/whatsapp-leads/internal/ingest"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// Services is the event-processing graph shared by the API server and the
// webhook worker.
type Services struct {
	Repository   *store.Repository
	Normalizer   messaging.PhoneNormalizer
	Dispatcher   *whatsapp.Dispatcher
	HealthChecks map[string]handlers.Pinger

	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildServices connects storage, picks the reply provider and assembles the
// dispatcher. Postgres and Redis are optional; without them the service runs on
// the in-memory backend and ring buffer.
func BuildServices(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.WebhookMetrics) (*Services, error) {
	svc := &Services{
		Normalizer:   messaging.NewPhoneNormalizer(cfg.DefaultCountryPrefix),
		HealthChecks: map[string]handlers.Pinger{},
	}

	backend, err := svc.setupBackend(ctx, cfg, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	repo := store.NewRepository(backend,
		store.WithRecentStore(svc.setupRecentStore(cfg, logger)),
		store.WithLogger(logger),
		store.WithCallTimeout(cfg.CallTimeout),
		store.WithDefaultLeadName(cfg.DefaultLeadName),
	)
	svc.Repository = repo
	svc.HealthChecks["store"] = repo

	replies, err := svc.setupReplies(ctx, cfg, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	pipelineCfg := ingest.PipelineConfig{
		Repository:     repo,
		Normalizer:     svc.Normalizer,
		Replies:        replies,
		BusinessNumber: cfg.WhatsAppBusinessNumber,
		ContextTurns:   cfg.ReplyContextTurns,
		CallTimeout:    cfg.CallTimeout,
		Logger:         logger,
		Metrics:        m,
	}
	if sender := setupSender(cfg); sender != nil {
		pipelineCfg.Sender = sender
	} else {
		logger.Warn("whatsapp send credentials not configured, auto-reply disabled")
	}

	svc.Dispatcher = whatsapp.NewDispatcher(whatsapp.DispatcherConfig{
		Inbound:   ingest.NewPipeline(pipelineCfg),
		Statuses:  ingest.NewStatusReconciler(repo, logger, m),
		Templates: ingest.NewTemplateStatusReconciler(repo, logger, m),
		Logger:    logger,
		Metrics:   m,
	})
	return svc, nil
}

func (s *Services) setupBackend(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (store.Backend, error) {
	pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			return nil, fmt.Errorf("mainconfig: postgres unavailable")
		}
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryBackend(), nil
	}
	s.closers = append(s.closers, pool.Close)
	s.HealthChecks["postgres"] = pool
	return store.NewPostgresBackend(pool), nil
}

// ConnectPostgresPool returns nil when url is empty or the database cannot be reached.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("connected to postgres")
	return pool
}

func (s *Services) setupRecentStore(cfg *appconfig.Config, logger *logging.Logger) store.RecentStore {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return store.NewRecentBuffer(cfg.RecentBufferSize)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	s.closers = append(s.closers, func() { _ = client.Close() })
	s.HealthChecks["redis"] = redisPinger{client}
	logger.Info("recent messages cached in redis", "addr", cfg.RedisAddr)
	return store.NewRedisRecentBuffer(client, cfg.RecentBufferSize)
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (s *Services) setupReplies(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*conversation.ReplyService, error) {
	replyCfg := conversation.ReplyConfig{
		FallbackText: cfg.ReplyFallbackText,
		ContextTurns: cfg.ReplyContextTurns,
		Logger:       logger,
	}

	switch cfg.ReplyProvider {
	case "static":
		replyCfg.Client = conversation.StaticLLMClient{Text: cfg.ReplyFallbackText}
	case "bedrock":
		bedrock, err := s.bedrockClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		replyCfg.Client = bedrock
		replyCfg.Model = cfg.BedrockModelID
	default:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			logger.Warn("GEMINI_API_KEY not set, replies use the fallback text")
			break
		}
		gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("mainconfig: gemini client: %w", err)
		}
		s.closers = append(s.closers, func() { _ = gemini.Close() })
		replyCfg.Client = gemini

		if strings.TrimSpace(cfg.BedrockModelID) != "" {
			bedrock, err := s.bedrockClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			replyCfg.Client = conversation.NewFallbackLLMClient(gemini, bedrock, cfg.BedrockModelID, logger)
			logger.Info("bedrock configured as reply fallback", "model", cfg.BedrockModelID)
		}
	}
	return conversation.NewReplyService(replyCfg), nil
}

func (s *Services) bedrockClient(ctx context.Context, cfg *appconfig.Config) (*conversation.BedrockLLMClient, error) {
	if strings.TrimSpace(cfg.BedrockModelID) == "" {
		return nil, fmt.Errorf("mainconfig: BEDROCK_MODEL_ID is required for bedrock replies")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: aws config: %w", err)
	}
	return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg)), nil
}

// setupSender returns nil unless both the access token and phone number ID are set.
func setupSender(cfg *appconfig.Config) *whatsapp.Client {
	if strings.TrimSpace(cfg.WhatsAppAccessToken) == "" || strings.TrimSpace(cfg.WhatsAppPhoneNumberID) == "" {
		return nil
	}
	client := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if cfg.WhatsAppGraphAPIBase != "" {
		client.SetGraphAPIBase(cfg.WhatsAppGraphAPIBase)
	}
	return client
}
