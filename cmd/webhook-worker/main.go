package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/whatsapp-leads/cmd/mainconfig"
	appconfig "github.com/wolfman30/whatsapp-leads/internal/config"
	"github.com/wolfman30/whatsapp-leads/internal/delivery"
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
	if cfg.WebhookQueueURL == "" {
		logger.Error("WEBHOOK_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(reg)

	svc, err := mainconfig.BuildServices(ctx, cfg, logger, webhookMetrics)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := delivery.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.WebhookQueueURL)

	worker := delivery.NewWorker(queue, svc.Dispatcher, logger, webhookMetrics,
		delivery.WithWorkerCount(cfg.WorkerCount),
	)
	worker.Start(ctx)
	logger.Info("webhook worker started", "queue_url", cfg.WebhookQueueURL, "workers", cfg.WorkerCount)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down webhook worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("webhook worker stopped")
	case <-doneCtx.Done():
		logger.Error("webhook worker shutdown timed out", "error", doneCtx.Err())
	}
}
