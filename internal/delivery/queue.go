// Package delivery moves verified webhook bodies through a queue to a pool of
// workers that dispatch them.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the transport between the webhook handler and the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is the queued form of one webhook delivery.
type Job struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

func encodeJob(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("delivery: encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("delivery: decode job: %w", err)
	}
	if len(job.Body) == 0 {
		return Job{}, errors.New("delivery: job has no body")
	}
	return job, nil
}

// Publisher enqueues webhook bodies. It satisfies whatsapp.Enqueuer.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("delivery: queue cannot be nil")
	}
	return &Publisher{queue: queue}
}

// Enqueue wraps body in a Job and sends it. body must be valid JSON.
func (p *Publisher) Enqueue(ctx context.Context, body []byte) error {
	if !json.Valid(body) {
		return errors.New("delivery: webhook body is not valid JSON")
	}
	encoded, err := encodeJob(Job{Body: json.RawMessage(body)})
	if err != nil {
		return err
	}
	return p.queue.Send(ctx, encoded)
}
