// Package ingest turns dispatched webhook events into lead, message and
// conversation state, and triggers the automatic reply.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

var tracer = otel.Tracer("whatsapp-leads.internal.ingest")

const (
	defaultCallTimeout  = 10 * time.Second
	defaultContextTurns = 5
)

// ReplyGenerator produces the text of an automatic reply.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, inboundText string, history []messaging.Turn) (string, error)
}

// MessageSender delivers a text message and returns the provider message ID,
// which may be empty.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// PipelineConfig wires a Pipeline. Replies and Sender are optional; without
// both the pipeline records inbound traffic and never replies.
type PipelineConfig struct {
	Repository *store.Repository
	Normalizer messaging.PhoneNormalizer
	Replies    ReplyGenerator
	Sender     MessageSender
	// BusinessNumber is our own WhatsApp number. Messages from it are recorded
	// but never answered.
	BusinessNumber string
	ContextTurns   int
	CallTimeout    time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.WebhookMetrics
}

// Pipeline processes one inbound customer message end to end.
type Pipeline struct {
	repo           *store.Repository
	normalizer     messaging.PhoneNormalizer
	replies        ReplyGenerator
	sender         MessageSender
	businessNumber string
	contextTurns   int
	callTimeout    time.Duration
	logger         *logging.Logger
	metrics        *metrics.WebhookMetrics
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Repository == nil {
		panic("ingest: repository required")
	}
	p := &Pipeline{
		repo:         cfg.Repository,
		normalizer:   cfg.Normalizer,
		replies:      cfg.Replies,
		sender:       cfg.Sender,
		contextTurns: cfg.ContextTurns,
		callTimeout:  cfg.CallTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if p.contextTurns <= 0 {
		p.contextTurns = defaultContextTurns
	}
	if p.callTimeout <= 0 {
		p.callTimeout = defaultCallTimeout
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	if strings.TrimSpace(cfg.BusinessNumber) != "" {
		p.businessNumber = p.normalizer.Normalize(cfg.BusinessNumber)
	}
	return p
}

// HandleInbound records msg and replies to it. Messages without a sender or
// body are ignored. A redelivered message is recognised by its provider ID and
// has no further effect. Failed steps are logged and returned as joined
// *StepError values; steps that do not depend on a failed one still run.
func (p *Pipeline) HandleInbound(ctx context.Context, msg whatsapp.InboundMessage) error {
	body := strings.TrimSpace(msg.Body)
	if strings.TrimSpace(msg.From) == "" || body == "" {
		return nil
	}
	phoneKey := p.normalizer.Normalize(msg.From)

	ctx, span := tracer.Start(ctx, "ingest.HandleInbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.message_id", msg.MessageID),
		attribute.String("whatsapp.message_type", msg.Type),
	)

	logger := p.logger.With("phone_key", phoneKey, "message_id", msg.MessageID)
	var errs []error
	fail := func(step string, err error) {
		logger.Error("ingest step failed", "step", step, "error", err)
		errs = append(errs, &StepError{Step: step, PhoneKey: phoneKey, Err: err})
	}

	in := store.InboundTurn{
		PhoneKey:          phoneKey,
		ProviderMessageID: msg.MessageID,
		ContactName:       msg.ContactName,
		Body:              body,
		ReceivedAt:        msg.Timestamp,
	}
	if msg.MediaID != "" {
		in.MediaRef = msg.MediaID
		in.MediaType = msg.Type
	}

	res := p.repo.RecordInboundTurn(ctx, in)
	if res.LeadErr != nil {
		fail(StepLead, res.LeadErr)
	}
	if res.MessageErr != nil {
		fail(StepMessage, res.MessageErr)
	}
	if res.TurnErr != nil {
		fail(StepTurn, res.TurnErr)
	}
	if res.Duplicate {
		logger.Info("duplicate inbound message ignored")
		span.SetAttributes(attribute.Bool("whatsapp.duplicate", true))
		return joinStepErrors(span, errs)
	}
	if res.LeadCreated {
		logger.Info("lead created", "lead_id", res.Lead.ID)
	}

	if p.replies == nil || p.sender == nil {
		return joinStepErrors(span, errs)
	}
	if p.businessNumber != "" && phoneKey == p.businessNumber {
		logger.Info("skipping auto-reply to business number")
		return joinStepErrors(span, errs)
	}

	p.reply(ctx, logger, phoneKey, body, res.Lead != nil, fail)
	return joinStepErrors(span, errs)
}

// reply generates, sends and records the automatic reply.
func (p *Pipeline) reply(ctx context.Context, logger *logging.Logger, phoneKey, body string, hasLead bool, fail func(string, error)) {
	var history []messaging.Turn
	if hasLead {
		var err error
		history, err = p.repo.RecentTurns(ctx, phoneKey, p.contextTurns+1)
		if err != nil {
			// the reply still goes out without context
			fail(StepHistory, err)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	text, err := p.replies.GenerateReply(genCtx, body, history)
	cancel()
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		fail(StepReply, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	providerID, err := p.sender.SendMessage(sendCtx, phoneKey, text)
	cancel()
	if err != nil {
		p.metrics.ObserveOutbound("failed")
		fail(StepSend, err)
		return
	}
	p.metrics.ObserveOutbound("sent")

	out := p.repo.RecordOutboundTurn(ctx, store.OutboundTurn{
		PhoneKey:          phoneKey,
		ProviderMessageID: providerID,
		Body:              text,
		Role:              messaging.RoleAI,
	})
	if err := out.Err(); err != nil {
		fail(StepRecordOutbound, err)
		return
	}
	logger.Info("auto-reply sent", "reply_message_id", out.Message.ID, "surrogate", out.Message.Surrogate)
}

func joinStepErrors(span trace.Span, errs []error) error {
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest steps failed")
	}
	return err
}
