package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/whatsapp-leads/internal/leads"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
)

// PgxPool is the subset of *pgxpool.Pool the backend needs. pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresBackend persists leads, messages, turns and templates in Postgres.
type PostgresBackend struct {
	pool PgxPool
}

func NewPostgresBackend(pool PgxPool) *PostgresBackend {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &PostgresBackend{pool: pool}
}

const leadColumns = `id, phone_key, name, status, created_at, updated_at`

func scanLead(row pgx.Row) (leads.Lead, error) {
	var lead leads.Lead
	var id uuid.UUID
	var status string
	if err := row.Scan(&id, &lead.PhoneKey, &lead.Name, &status, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
		return leads.Lead{}, err
	}
	lead.ID = id.String()
	lead.Status = leads.Status(status)
	return lead, nil
}

func (b *PostgresBackend) UpsertLead(ctx context.Context, phoneKey, name string) (leads.Lead, bool, error) {
	if phoneKey == "" {
		return leads.Lead{}, false, leads.ErrMissingPhoneKey
	}
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO leads (id, phone_key, name, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone_key) DO NOTHING
	`, uuid.New(), phoneKey, name, string(leads.StatusNew))
	if err != nil {
		return leads.Lead{}, false, fmt.Errorf("store: insert lead: %w", err)
	}
	lead, err := b.GetLeadByPhone(ctx, phoneKey)
	if err != nil {
		return leads.Lead{}, false, err
	}
	return lead, tag.RowsAffected() == 1, nil
}

func (b *PostgresBackend) GetLeadByPhone(ctx context.Context, phoneKey string) (leads.Lead, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE phone_key = $1`, phoneKey)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leads.Lead{}, leads.ErrLeadNotFound
	}
	if err != nil {
		return leads.Lead{}, fmt.Errorf("store: get lead: %w", err)
	}
	return lead, nil
}

func (b *PostgresBackend) ListLeads(ctx context.Context, filter leads.ListFilter) ([]leads.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list leads: %w", err)
	}
	defer rows.Close()

	out := []leads.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan lead: %w", err)
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

const messageColumns = `id, surrogate, phone_key, direction, status, sender_role, body,
	media_ref, media_type, error_code, error_message, created_at, updated_at`

func scanMessage(row pgx.Row) (messaging.Message, error) {
	var msg messaging.Message
	var direction, status, role string
	if err := row.Scan(&msg.ID, &msg.Surrogate, &msg.PhoneKey, &direction, &status, &role, &msg.Body,
		&msg.MediaRef, &msg.MediaType, &msg.ErrorCode, &msg.ErrorMessage, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return messaging.Message{}, err
	}
	msg.Direction = messaging.Direction(direction)
	msg.Status = messaging.Status(status)
	msg.SenderRole = messaging.SenderRole(role)
	return msg, nil
}

func (b *PostgresBackend) InsertMessage(ctx context.Context, msg messaging.Message) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO messages (
			id, surrogate, phone_key, direction, status, status_rank, sender_role,
			body, media_ref, media_type, error_code, error_message, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.Surrogate, msg.PhoneKey, string(msg.Direction), string(msg.Status), msg.Status.Rank(),
		string(msg.SenderRole), msg.Body, msg.MediaRef, msg.MediaType, msg.ErrorCode, msg.ErrorMessage, createdAt(msg.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("store: insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (b *PostgresBackend) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	if err != nil {
		return messaging.Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return msg, nil
}

// UpdateMessageStatus relies on status_rank so the monotonic check and the
// write happen in one statement. Rank -1 marks pass-through statuses.
func (b *PostgresBackend) UpdateMessageStatus(ctx context.Context, change StatusChange) (messaging.Message, StatusOutcome, error) {
	row := b.pool.QueryRow(ctx, `
		UPDATE messages
		SET status = $2,
			status_rank = $3,
			error_code = COALESCE(NULLIF($4, ''), error_code),
			error_message = COALESCE(NULLIF($5, ''), error_message),
			updated_at = now()
		WHERE id = $1
			AND ($3 < 0 OR status_rank < 0 OR $3 >= status_rank)
		RETURNING `+messageColumns,
		change.MessageID, string(change.Status), change.Status.Rank(), change.ErrorCode, change.ErrorMessage)
	msg, err := scanMessage(row)
	if err == nil {
		return msg, OutcomeApplied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return messaging.Message{}, "", fmt.Errorf("store: update message status: %w", err)
	}

	current, err := b.GetMessage(ctx, change.MessageID)
	if errors.Is(err, messaging.ErrMessageNotFound) {
		return messaging.Message{}, OutcomeNotFound, nil
	}
	if err != nil {
		return messaging.Message{}, "", err
	}
	return current, OutcomeStale, nil
}

func (b *PostgresBackend) ListMessages(ctx context.Context, query MessageQuery) ([]messaging.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ($1 = '' OR phone_key = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, query.PhoneKey, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	out := []messaging.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) AppendTurn(ctx context.Context, turn messaging.Turn) error {
	leadID, err := uuid.Parse(turn.LeadID)
	if err != nil {
		return fmt.Errorf("store: append turn: invalid lead id %q: %w", turn.LeadID, err)
	}
	id := uuid.New()
	if turn.ID != "" {
		if id, err = uuid.Parse(turn.ID); err != nil {
			return fmt.Errorf("store: append turn: invalid turn id %q: %w", turn.ID, err)
		}
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO conversation_turns (id, lead_id, message_id, phone_key, direction, sender_role, body, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING
	`, id, leadID, turn.MessageID, turn.PhoneKey, string(turn.Direction), string(turn.SenderRole), turn.Body, createdAt(turn.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ListTurns(ctx context.Context, leadID string, limit int) ([]messaging.Turn, error) {
	id, err := uuid.Parse(leadID)
	if err != nil {
		return nil, leads.ErrLeadNotFound
	}
	rows, err := b.pool.Query(ctx, `
		SELECT id, lead_id, message_id, phone_key, direction, sender_role, body, created_at
		FROM (
			SELECT id, lead_id, COALESCE(message_id, '') AS message_id, phone_key, direction,
				sender_role, body, created_at
			FROM conversation_turns
			WHERE lead_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT NULLIF($2, 0)
		) latest
		ORDER BY created_at ASC, id ASC
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list turns: %w", err)
	}
	defer rows.Close()

	out := []messaging.Turn{}
	for rows.Next() {
		var turn messaging.Turn
		var turnID, turnLead uuid.UUID
		var direction, role string
		if err := rows.Scan(&turnID, &turnLead, &turn.MessageID, &turn.PhoneKey, &direction, &role, &turn.Body, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		turn.ID = turnID.String()
		turn.LeadID = turnLead.String()
		turn.Direction = messaging.Direction(direction)
		turn.SenderRole = messaging.SenderRole(role)
		out = append(out, turn)
	}
	return out, rows.Err()
}

const templateColumns = `name, body, category, language, status, rejection_reason, provider_template_id, created_at, updated_at`

func scanTemplate(row pgx.Row) (templates.Template, error) {
	var tmpl templates.Template
	var status string
	if err := row.Scan(&tmpl.Name, &tmpl.Body, &tmpl.Category, &tmpl.Language, &status,
		&tmpl.RejectionReason, &tmpl.ProviderTemplateID, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
		return templates.Template{}, err
	}
	tmpl.Status = templates.Status(status)
	return tmpl, nil
}

func (b *PostgresBackend) UpsertTemplate(ctx context.Context, tmpl templates.Template) (templates.Template, error) {
	if strings.TrimSpace(string(tmpl.Status)) == "" {
		tmpl.Status = templates.StatusPending
	}
	row := b.pool.QueryRow(ctx, `
		INSERT INTO templates (name, body, category, language, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
			category = EXCLUDED.category,
			language = EXCLUDED.language,
			updated_at = now()
		RETURNING `+templateColumns,
		tmpl.Name, tmpl.Body, tmpl.Category, tmpl.Language, string(tmpl.Status))
	out, err := scanTemplate(row)
	if err != nil {
		return templates.Template{}, fmt.Errorf("store: upsert template: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) GetTemplate(ctx context.Context, name string) (templates.Template, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE name = $1`, name)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return templates.Template{}, templates.ErrTemplateNotFound
	}
	if err != nil {
		return templates.Template{}, fmt.Errorf("store: get template: %w", err)
	}
	return tmpl, nil
}

func (b *PostgresBackend) UpdateTemplateStatus(ctx context.Context, change TemplateStatusChange) (templates.Template, error) {
	row := b.pool.QueryRow(ctx, `
		UPDATE templates
		SET status = $2,
			rejection_reason = $3,
			provider_template_id = COALESCE(NULLIF($4, ''), provider_template_id),
			updated_at = now()
		WHERE name = $1
		RETURNING `+templateColumns,
		change.Name, string(change.Status), change.Reason, change.ProviderTemplateID)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return templates.Template{}, templates.ErrTemplateNotFound
	}
	if err != nil {
		return templates.Template{}, fmt.Errorf("store: update template status: %w", err)
	}
	return tmpl, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
