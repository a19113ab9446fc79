package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// BodyDispatcher processes one raw webhook body. Per-event failures are
// reported in Counts; an error means the body is unusable and the job is dropped.
type BodyDispatcher interface {
	Dispatch(ctx context.Context, body []byte) (whatsapp.Counts, error)
}

// Worker consumes queued webhook jobs and dispatches them.
type Worker struct {
	queue      Queue
	dispatcher BodyDispatcher
	logger     *logging.Logger
	metrics    *metrics.WebhookMetrics

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxBackoff       time.Duration
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewWorker(queue Queue, dispatcher BodyDispatcher, logger *logging.Logger, m *metrics.WebhookMetrics, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("delivery: queue cannot be nil")
	}
	if dispatcher == nil {
		panic("delivery: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxBackoff:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		queue:      queue,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		cfg:        cfg,
	}
}

// Start launches the consumer goroutines. They stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("webhook worker started", "worker_id", workerID)

	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			w.logger.Debug("webhook worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive webhook jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < w.cfg.maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable webhook job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	// a job in flight finishes even when shutdown starts
	jobCtx := context.WithoutCancel(ctx)
	counts, err := w.dispatcher.Dispatch(jobCtx, job.Body)
	if err != nil {
		w.logger.Error("dropping malformed webhook job", "error", err, "job_id", job.ID,
			"malformed", errors.Is(err, whatsapp.ErrMalformedPayload))
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if !job.ReceivedAt.IsZero() {
		w.metrics.ObserveWebhookLatency("async", time.Since(job.ReceivedAt).Seconds())
	}
	w.logger.Info("webhook job processed",
		"job_id", job.ID,
		"messages", counts.Messages,
		"statuses", counts.Statuses,
		"template_updates", counts.TemplateUpdates,
		"failed", counts.Failed,
	)
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete webhook job", "error", err)
	}
}
