package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

const defaultCallTimeout = 10 * time.Second

// Repository sequences the multi-entity writes of the webhook flow over a
// Backend and mirrors messages into a RecentStore. The writes are not
// transactional: each result reports which parts succeeded.
type Repository struct {
	backend         Backend
	recent          RecentStore
	logger          *logging.Logger
	callTimeout     time.Duration
	defaultLeadName string
}

// Option customizes a Repository.
type Option func(*Repository)

func WithRecentStore(recent RecentStore) Option {
	return func(r *Repository) {
		if recent != nil {
			r.recent = recent
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCallTimeout bounds every backend call. Non-positive values are ignored.
func WithCallTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

// WithDefaultLeadName sets the name given to leads created without a profile name.
func WithDefaultLeadName(name string) Option {
	return func(r *Repository) {
		if strings.TrimSpace(name) != "" {
			r.defaultLeadName = name
		}
	}
}

func NewRepository(backend Backend, opts ...Option) *Repository {
	if backend == nil {
		panic("store: backend required")
	}
	r := &Repository{
		backend:         backend,
		recent:          NewRecentBuffer(100),
		logger:          logging.Default(),
		callTimeout:     defaultCallTimeout,
		defaultLeadName: "Unknown",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}

// InboundTurn is one customer message to record.
type InboundTurn struct {
	PhoneKey          string
	ProviderMessageID string
	ContactName       string
	Body              string
	MediaRef          string
	MediaType         string
	ReceivedAt        time.Time
}

// InboundResult reports each part of RecordInboundTurn separately.
type InboundResult struct {
	Lead        *leads.Lead
	LeadCreated bool
	LeadErr     error

	Message    messaging.Message
	MessageErr error
	// Duplicate is set when the provider message ID was already recorded. No
	// turn is written for a duplicate.
	Duplicate bool

	TurnRecorded bool
	TurnErr      error
}

// Err joins the failures of the individual steps.
func (res InboundResult) Err() error {
	return errors.Join(res.LeadErr, res.MessageErr, res.TurnErr)
}

// RecordInboundTurn upserts the lead, stores the inbound message and appends
// the conversation turn. A failed lead upsert does not stop the message from
// being stored, but the turn needs a lead and is skipped.
func (r *Repository) RecordInboundTurn(ctx context.Context, in InboundTurn) InboundResult {
	var res InboundResult

	name := strings.TrimSpace(in.ContactName)
	if name == "" {
		name = r.defaultLeadName
	}
	lead, created, err := r.upsertLead(ctx, in.PhoneKey, name)
	if err != nil {
		res.LeadErr = err
	} else {
		res.Lead = &lead
		res.LeadCreated = created
	}

	msg := messaging.Message{
		ID:         in.ProviderMessageID,
		PhoneKey:   in.PhoneKey,
		Direction:  messaging.DirectionInbound,
		Status:     messaging.StatusReceived,
		SenderRole: messaging.RoleCustomer,
		Body:       in.Body,
		MediaRef:   in.MediaRef,
		MediaType:  in.MediaType,
		CreatedAt:  in.ReceivedAt,
	}
	res.Message, res.Duplicate, res.MessageErr = r.storeMessage(ctx, msg)
	if res.Duplicate || res.Lead == nil {
		return res
	}

	res.TurnErr = r.appendTurn(ctx, res.Lead.ID, res.Message)
	res.TurnRecorded = res.TurnErr == nil
	return res
}

// OutboundTurn is one message sent to a lead.
type OutboundTurn struct {
	PhoneKey          string
	ProviderMessageID string
	Body              string
	Role              messaging.SenderRole
}

// OutboundResult reports each part of RecordOutboundTurn separately.
type OutboundResult struct {
	Lead         *leads.Lead
	LeadErr      error
	Message      messaging.Message
	MessageErr   error
	TurnRecorded bool
	TurnErr      error
}

func (res OutboundResult) Err() error {
	return errors.Join(res.LeadErr, res.MessageErr, res.TurnErr)
}

// RecordOutboundTurn stores a sent message as status sent and appends the
// matching turn. A message without a provider ID gets a surrogate ID.
func (r *Repository) RecordOutboundTurn(ctx context.Context, out OutboundTurn) OutboundResult {
	var res OutboundResult

	lead, _, err := r.upsertLead(ctx, out.PhoneKey, r.defaultLeadName)
	if err != nil {
		res.LeadErr = err
	} else {
		res.Lead = &lead
	}

	role := out.Role
	if role == "" {
		role = messaging.RoleAI
	}
	msg := messaging.Message{
		ID:         out.ProviderMessageID,
		PhoneKey:   out.PhoneKey,
		Direction:  messaging.DirectionOutbound,
		Status:     messaging.StatusSent,
		SenderRole: role,
		Body:       out.Body,
	}
	var duplicate bool
	res.Message, duplicate, res.MessageErr = r.storeMessage(ctx, msg)
	if duplicate || res.Lead == nil {
		return res
	}

	res.TurnErr = r.appendTurn(ctx, res.Lead.ID, res.Message)
	res.TurnRecorded = res.TurnErr == nil
	return res
}

func (r *Repository) upsertLead(ctx context.Context, phoneKey, name string) (leads.Lead, bool, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	lead, created, err := r.backend.UpsertLead(ctx, phoneKey, name)
	if err != nil {
		return leads.Lead{}, false, fmt.Errorf("store: upsert lead: %w", err)
	}
	return lead, created, nil
}

// storeMessage inserts msg and mirrors it into the recent store. When the
// backend fails the recent store still receives the message and is used to
// detect duplicates.
func (r *Repository) storeMessage(ctx context.Context, msg messaging.Message) (messaging.Message, bool, error) {
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = messaging.NewSurrogateID()
		msg.Surrogate = true
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt

	callCtx, cancel := r.call(ctx)
	inserted, err := r.backend.InsertMessage(callCtx, msg)
	cancel()

	if err != nil {
		if _, lookupErr := r.recent.Message(ctx, msg.ID); lookupErr == nil {
			return msg, true, nil
		}
		r.mirror(ctx, msg)
		return msg, false, fmt.Errorf("store: insert message: %w", err)
	}
	if !inserted {
		return msg, true, nil
	}
	r.mirror(ctx, msg)
	return msg, false, nil
}

func (r *Repository) mirror(ctx context.Context, msg messaging.Message) {
	if err := r.recent.Add(ctx, msg); err != nil {
		r.logger.Warn("recent buffer add failed", "message_id", msg.ID, "error", err)
	}
}

func (r *Repository) appendTurn(ctx context.Context, leadID string, msg messaging.Message) error {
	ctx, cancel := r.call(ctx)
	defer cancel()
	turn := messaging.Turn{
		ID:         uuid.New().String(),
		LeadID:     leadID,
		MessageID:  msg.ID,
		PhoneKey:   msg.PhoneKey,
		Direction:  msg.Direction,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}
	if err := r.backend.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// StatusResult is the effect of ApplyMessageStatus.
type StatusResult struct {
	Outcome StatusOutcome
	Message messaging.Message
}

// ApplyMessageStatus updates an existing message's status. It never creates a
// message: an unknown ID yields OutcomeNotFound.
func (r *Repository) ApplyMessageStatus(ctx context.Context, change StatusChange) (StatusResult, error) {
	callCtx, cancel := r.call(ctx)
	msg, outcome, err := r.backend.UpdateMessageStatus(callCtx, change)
	cancel()

	if bufErr := r.recent.UpdateStatus(ctx, change); bufErr != nil && !errors.Is(bufErr, messaging.ErrMessageNotFound) {
		r.logger.Warn("recent buffer status update failed", "message_id", change.MessageID, "error", bufErr)
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("store: apply message status: %w", err)
	}
	return StatusResult{Outcome: outcome, Message: msg}, nil
}

// RegisterTemplate creates a template in pending state, or updates the
// content of an existing one without touching its status.
func (r *Repository) RegisterTemplate(ctx context.Context, tmpl templates.Template) (templates.Template, error) {
	if strings.TrimSpace(tmpl.Name) == "" {
		return templates.Template{}, errors.New("store: template name required")
	}
	ctx, cancel := r.call(ctx)
	defer cancel()
	tmpl.Status = templates.StatusPending
	out, err := r.backend.UpsertTemplate(ctx, tmpl)
	if err != nil {
		return templates.Template{}, fmt.Errorf("store: register template: %w", err)
	}
	return out, nil
}

// ApplyTemplateStatus updates a template's lifecycle status by name. It
// returns templates.ErrTemplateNotFound for unknown names.
func (r *Repository) ApplyTemplateStatus(ctx context.Context, change TemplateStatusChange) (templates.Template, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	tmpl, err := r.backend.UpdateTemplateStatus(ctx, change)
	if err != nil {
		return templates.Template{}, fmt.Errorf("store: apply template status: %w", err)
	}
	return tmpl, nil
}

func (r *Repository) Template(ctx context.Context, name string) (templates.Template, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.GetTemplate(ctx, name)
}

// Conversation is a lead together with its ordered turns.
type Conversation struct {
	Lead  leads.Lead       `json:"lead"`
	Turns []messaging.Turn `json:"turns"`
}

// Conversation returns the lead for phoneKey and its latest limit turns,
// oldest first. A zero limit returns every turn.
func (r *Repository) Conversation(ctx context.Context, phoneKey string, limit int) (Conversation, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()

	lead, err := r.backend.GetLeadByPhone(ctx, phoneKey)
	if err != nil {
		return Conversation{}, err
	}
	turns, err := r.backend.ListTurns(ctx, lead.ID, limit)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{Lead: lead, Turns: turns}, nil
}

// RecentTurns returns the latest limit turns for phoneKey, oldest first. A
// phone with no lead has no turns.
func (r *Repository) RecentTurns(ctx context.Context, phoneKey string, limit int) ([]messaging.Turn, error) {
	conv, err := r.Conversation(ctx, phoneKey, limit)
	if errors.Is(err, leads.ErrLeadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv.Turns, nil
}

// RecentMessages returns the newest messages, falling back to the recent
// store when the backend fails.
func (r *Repository) RecentMessages(ctx context.Context, phoneKey string, limit int) ([]messaging.Message, error) {
	callCtx, cancel := r.call(ctx)
	msgs, err := r.backend.ListMessages(callCtx, MessageQuery{PhoneKey: phoneKey, Limit: limit})
	cancel()
	if err == nil {
		return msgs, nil
	}
	r.logger.Warn("backend list messages failed, serving recent buffer", "phone_key", phoneKey, "error", err)
	return r.recent.RecentMessages(ctx, phoneKey, limit)
}

// Message returns one message by ID, falling back to the recent store when
// the backend fails.
func (r *Repository) Message(ctx context.Context, id string) (messaging.Message, error) {
	callCtx, cancel := r.call(ctx)
	msg, err := r.backend.GetMessage(callCtx, id)
	cancel()
	if err == nil || errors.Is(err, messaging.ErrMessageNotFound) {
		return msg, err
	}
	r.logger.Warn("backend get message failed, serving recent buffer", "message_id", id, "error", err)
	return r.recent.Message(ctx, id)
}

// Stats counts every stored message, or those of one phone.
func (r *Repository) Stats(ctx context.Context, phoneKey string) (messaging.Stats, error) {
	msgs, err := r.RecentMessages(ctx, phoneKey, 0)
	if err != nil {
		return messaging.Stats{}, err
	}
	return messaging.ComputeStats(msgs), nil
}

func (r *Repository) ListLeads(ctx context.Context, filter leads.ListFilter) ([]leads.Lead, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.ListLeads(ctx, filter)
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.Ping(ctx)
}

var _ MessageReader = (*Repository)(nil)
var _ RecentStore = (*RecentBuffer)(nil)
var _ RecentStore = (*RedisRecentBuffer)(nil)
