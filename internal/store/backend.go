package store

import (
	"context"

	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
)

// StatusOutcome describes what a status update did to the stored message.
type StatusOutcome string

const (
	OutcomeApplied  StatusOutcome = "applied"
	OutcomeStale    StatusOutcome = "stale"
	OutcomeNotFound StatusOutcome = "not_found"
)

// StatusChange is a status transition for one message, keyed by provider message ID.
type StatusChange struct {
	MessageID    string
	Status       messaging.Status
	ErrorCode    string
	ErrorMessage string
}

// MessageQuery selects messages newest first. An empty PhoneKey matches every
// phone; a zero Limit means no limit.
type MessageQuery struct {
	PhoneKey string
	Limit    int
}

// TemplateStatusChange is a lifecycle transition for one template, keyed by name.
type TemplateStatusChange struct {
	Name               string
	Status             templates.Status
	// Reason replaces the stored rejection reason; empty clears it.
	Reason             string
	ProviderTemplateID string
}

// Backend is the persistence substrate behind Repository. Implementations must
// make UpsertLead and InsertMessage safe under concurrent callers without any
// lock held by the caller.
type Backend interface {
	// UpsertLead returns the lead for phoneKey, creating it with name and status
	// new when absent. created reports whether this call inserted the row.
	UpsertLead(ctx context.Context, phoneKey, name string) (lead leads.Lead, created bool, err error)
	GetLeadByPhone(ctx context.Context, phoneKey string) (leads.Lead, error)
	ListLeads(ctx context.Context, filter leads.ListFilter) ([]leads.Lead, error)

	// InsertMessage stores msg unless a message with the same ID exists.
	// inserted is false for a duplicate.
	InsertMessage(ctx context.Context, msg messaging.Message) (inserted bool, err error)
	GetMessage(ctx context.Context, id string) (messaging.Message, error)
	// UpdateMessageStatus applies change only when the new status does not move
	// the message backwards. It never creates a message.
	UpdateMessageStatus(ctx context.Context, change StatusChange) (messaging.Message, StatusOutcome, error)
	ListMessages(ctx context.Context, query MessageQuery) ([]messaging.Message, error)

	AppendTurn(ctx context.Context, turn messaging.Turn) error
	// ListTurns returns the latest limit turns of a lead, oldest first. A zero
	// limit returns every turn.
	ListTurns(ctx context.Context, leadID string, limit int) ([]messaging.Turn, error)

	UpsertTemplate(ctx context.Context, tmpl templates.Template) (templates.Template, error)
	GetTemplate(ctx context.Context, name string) (templates.Template, error)
	UpdateTemplateStatus(ctx context.Context, change TemplateStatusChange) (templates.Template, error)

	Ping(ctx context.Context) error
}
