package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/whatsapp-leads/cmd/mainconfig"
	"github.com/wolfman30/whatsapp-leads/internal/api/router"
	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/whatsapp-leads/internal/config"
	"github.com/wolfman30/whatsapp-leads/internal/delivery"
	"github.com/wolfman30/whatsapp-leads/internal/http/handlers"
	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting whatsapp-leads API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"reply_provider", cfg.ReplyProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, webhookMetrics := setupMetrics()

	svc, err := mainconfig.BuildServices(ctx, cfg, logger, webhookMetrics)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	queue, worker, err := setupDelivery(ctx, cfg, svc.Dispatcher, logger, webhookMetrics)
	if err != nil {
		logger.Error("failed to set up webhook delivery", "error", err)
		os.Exit(1)
	}

	webhookCfg := whatsapp.WebhookConfig{
		VerifyToken:      cfg.WhatsAppVerifyToken,
		AppSecret:        cfg.WhatsAppAppSecret,
		StrictSignatures: cfg.WhatsAppStrictSignatures,
		MaxBodyBytes:     int64(cfg.WhatsAppMaxWebhookBodyKiB) << 10,
		Dispatcher:       svc.Dispatcher,
		Logger:           logger,
		Metrics:          webhookMetrics,
	}
	if queue != nil {
		webhookCfg.Queue = queue
		webhookCfg.EnqueueTimeout = cfg.CallTimeout
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Webhook:            whatsapp.NewWebhookHandler(webhookCfg),
		ReadAPI:            handlers.NewReadAPIHandler(svc.Repository, svc.Normalizer, logger),
		Templates:          handlers.NewTemplateHandler(svc.Repository, logger),
		LeadsHandler:       leads.NewHandler(svc.Repository, logger),
		MetricsHandler:     metricsHandler,
		HealthChecks:       svc.HealthChecks,
		ReadAPIJWTSecret:   cfg.ReadAPIJWTSecret,
		ReadAPIRate:        cfg.ReadAPIRate,
		ReadAPIBurst:       cfg.ReadAPIBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the webhook metrics on a private registry alongside
// the Go runtime and process collectors.
func setupMetrics() (http.Handler, *metrics.WebhookMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewWebhookMetrics(reg)
}

// setupDelivery returns the webhook queue for async mode. SQS bodies are
// processed by cmd/webhook-worker; the in-memory queue gets an in-process
// worker pool, returned so shutdown can wait for it.
func setupDelivery(ctx context.Context, cfg *appconfig.Config, dispatcher delivery.BodyDispatcher, logger *logging.Logger, m *metrics.WebhookMetrics) (*delivery.Publisher, *delivery.Worker, error) {
	if !cfg.WebhookAsync {
		return nil, nil, nil
	}

	if cfg.UsesSQS() {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		queue := delivery.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.WebhookQueueURL)
		logger.Info("webhooks queued to sqs", "queue_url", cfg.WebhookQueueURL)
		return delivery.NewPublisher(queue), nil, nil
	}

	queue := delivery.NewMemoryQueue(0)
	worker := delivery.NewWorker(queue, dispatcher, logger, m,
		delivery.WithWorkerCount(cfg.WorkerCount),
		delivery.WithReceiveWaitSeconds(1),
	)
	worker.Start(ctx)
	logger.Info("webhooks queued in memory", "workers", cfg.WorkerCount)
	return delivery.NewPublisher(queue), worker, nil
}

func waitForInlineWorker(worker *delivery.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("inline webhook worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline webhook worker shutdown timed out")
	}
}
