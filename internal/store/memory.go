package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
)

// MemoryBackend is a Backend held in process memory. It is used when no
// database is configured and in tests. A single mutex serializes writers,
// which gives the same conditional-insert guarantees as the Postgres backend.
type MemoryBackend struct {
	mu        sync.RWMutex
	leads     map[string]*leads.Lead // by phone key
	messages  map[string]*messaging.Message
	turns     map[string][]messaging.Turn // by lead ID
	templates map[string]*templates.Template
	now       func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		leads:     make(map[string]*leads.Lead),
		messages:  make(map[string]*messaging.Message),
		turns:     make(map[string][]messaging.Turn),
		templates: make(map[string]*templates.Template),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *MemoryBackend) UpsertLead(ctx context.Context, phoneKey, name string) (leads.Lead, bool, error) {
	if phoneKey == "" {
		return leads.Lead{}, false, leads.ErrMissingPhoneKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.leads[phoneKey]; ok {
		return *existing, false, nil
	}
	now := b.now()
	lead := &leads.Lead{
		ID:        uuid.New().String(),
		PhoneKey:  phoneKey,
		Name:      name,
		Status:    leads.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.leads[phoneKey] = lead
	return *lead, true, nil
}

func (b *MemoryBackend) GetLeadByPhone(ctx context.Context, phoneKey string) (leads.Lead, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lead, ok := b.leads[phoneKey]
	if !ok {
		return leads.Lead{}, leads.ErrLeadNotFound
	}
	return *lead, nil
}

func (b *MemoryBackend) ListLeads(ctx context.Context, filter leads.ListFilter) ([]leads.Lead, error) {
	b.mu.RLock()
	out := make([]leads.Lead, 0, len(b.leads))
	for _, lead := range b.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		out = append(out, *lead)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (b *MemoryBackend) InsertMessage(ctx context.Context, msg messaging.Message) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.messages[msg.ID]; ok {
		return false, nil
	}
	now := b.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	b.messages[msg.ID] = &msg
	return true, nil
}

func (b *MemoryBackend) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg, ok := b.messages[id]
	if !ok {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	return *msg, nil
}

func (b *MemoryBackend) UpdateMessageStatus(ctx context.Context, change StatusChange) (messaging.Message, StatusOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.messages[change.MessageID]
	if !ok {
		return messaging.Message{}, OutcomeNotFound, nil
	}
	if !change.Status.Supersedes(msg.Status) {
		return *msg, OutcomeStale, nil
	}
	msg.Status = change.Status
	if change.ErrorCode != "" {
		msg.ErrorCode = change.ErrorCode
	}
	if change.ErrorMessage != "" {
		msg.ErrorMessage = change.ErrorMessage
	}
	msg.UpdatedAt = b.now()
	return *msg, OutcomeApplied, nil
}

func (b *MemoryBackend) ListMessages(ctx context.Context, query MessageQuery) ([]messaging.Message, error) {
	b.mu.RLock()
	out := make([]messaging.Message, 0)
	for _, msg := range b.messages {
		if query.PhoneKey != "" && msg.PhoneKey != query.PhoneKey {
			continue
		}
		out = append(out, *msg)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, 0, query.Limit), nil
}

func (b *MemoryBackend) AppendTurn(ctx context.Context, turn messaging.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	known := false
	for _, lead := range b.leads {
		if lead.ID == turn.LeadID {
			known = true
			break
		}
	}
	if !known {
		return leads.ErrLeadNotFound
	}
	for _, existing := range b.turns[turn.LeadID] {
		if turn.MessageID != "" && existing.MessageID == turn.MessageID {
			return nil
		}
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = b.now()
	}
	b.turns[turn.LeadID] = append(b.turns[turn.LeadID], turn)
	return nil
}

func (b *MemoryBackend) ListTurns(ctx context.Context, leadID string, limit int) ([]messaging.Turn, error) {
	b.mu.RLock()
	turns := append([]messaging.Turn(nil), b.turns[leadID]...)
	b.mu.RUnlock()

	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (b *MemoryBackend) UpsertTemplate(ctx context.Context, tmpl templates.Template) (templates.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if existing, ok := b.templates[tmpl.Name]; ok {
		existing.Body = tmpl.Body
		existing.Category = tmpl.Category
		existing.Language = tmpl.Language
		existing.UpdatedAt = now
		return *existing, nil
	}
	if tmpl.Status == "" {
		tmpl.Status = templates.StatusPending
	}
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	b.templates[tmpl.Name] = &tmpl
	return tmpl, nil
}

func (b *MemoryBackend) GetTemplate(ctx context.Context, name string) (templates.Template, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tmpl, ok := b.templates[name]
	if !ok {
		return templates.Template{}, templates.ErrTemplateNotFound
	}
	return *tmpl, nil
}

func (b *MemoryBackend) UpdateTemplateStatus(ctx context.Context, change TemplateStatusChange) (templates.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmpl, ok := b.templates[change.Name]
	if !ok {
		return templates.Template{}, templates.ErrTemplateNotFound
	}
	tmpl.Status = change.Status
	tmpl.RejectionReason = change.Reason
	if change.ProviderTemplateID != "" {
		tmpl.ProviderTemplateID = change.ProviderTemplateID
	}
	tmpl.UpdatedAt = b.now()
	return *tmpl, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
