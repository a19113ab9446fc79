package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// ErrMalformedPayload is returned when the webhook envelope cannot be decoded.
var ErrMalformedPayload = errors.New("whatsapp: malformed webhook payload")

// InboundHandler processes one customer message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// StatusHandler processes one delivery status event.
type StatusHandler interface {
	ApplyStatus(ctx context.Context, update StatusUpdate) error
}

// TemplateStatusHandler processes one template lifecycle event.
type TemplateStatusHandler interface {
	ApplyTemplateStatus(ctx context.Context, update TemplateStatusUpdate) error
}

// Counts summarizes what one webhook delivery contained.
type Counts struct {
	Entries         int `json:"entries"`
	Messages        int `json:"messages"`
	Statuses        int `json:"statuses"`
	TemplateUpdates int `json:"template_updates"`
	Failed          int `json:"failed"`
	Ignored         int `json:"ignored"`
}

// DispatcherConfig wires the event handlers.
type DispatcherConfig struct {
	Inbound   InboundHandler
	Statuses  StatusHandler
	Templates TemplateStatusHandler
	Logger    *logging.Logger
	Metrics   *metrics.WebhookMetrics
}

// Dispatcher routes the events inside a webhook envelope to their handlers.
// A failing event is logged and counted; it never stops its siblings.
type Dispatcher struct {
	inbound   InboundHandler
	statuses  StatusHandler
	templates TemplateStatusHandler
	logger    *logging.Logger
	metrics   *metrics.WebhookMetrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		inbound:   cfg.Inbound,
		statuses:  cfg.Statuses,
		templates: cfg.Templates,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// ParseEvent decodes the outer envelope. Any decode failure wraps ErrMalformedPayload.
func ParseEvent(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return event, nil
}

// Dispatch decodes body and routes every event in it.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) (Counts, error) {
	event, err := ParseEvent(body)
	if err != nil {
		return Counts{}, err
	}
	return d.DispatchEvent(ctx, event), nil
}

// DispatchEvent routes every event of an already decoded envelope.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event WebhookEvent) Counts {
	var counts Counts
	if event.Object != "" && event.Object != ObjectWhatsAppBusinessAccount {
		d.logger.Info("ignoring webhook for unsupported object", "object", event.Object)
		counts.Ignored++
		return counts
	}

	for _, entry := range event.Entry {
		counts.Entries++
		for _, change := range entry.Changes {
			d.dispatchChange(ctx, entry.ID, change, &counts)
		}
	}
	return counts
}

func (d *Dispatcher) dispatchChange(ctx context.Context, entryID string, change Change, counts *Counts) {
	raw := bytes.TrimSpace(change.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		counts.Ignored++
		return
	}
	if change.Field == FieldTemplateStatusUpdate {
		d.dispatchTemplate(ctx, raw, counts)
		return
	}

	var value ChangeValue
	if err := json.Unmarshal(raw, &value); err != nil {
		d.logger.Warn("failed to decode webhook change", "entry_id", entryID, "field", change.Field, "error", err)
		counts.Failed++
		return
	}

	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}
	for _, rawMsg := range value.Messages {
		d.dispatchMessage(ctx, rawMsg, value.Metadata, names, counts)
	}
	for _, rawStatus := range value.Statuses {
		d.dispatchStatus(ctx, rawStatus, counts)
	}
	if tmpl := bytes.TrimSpace(value.TemplateStatusUpdate); len(tmpl) > 0 && !bytes.Equal(tmpl, []byte("null")) {
		d.dispatchTemplate(ctx, tmpl, counts)
	}
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, raw json.RawMessage, meta Metadata, names map[string]string, counts *Counts) {
	counts.Messages++
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Warn("failed to decode inbound message", "error", err)
		d.fail("message", counts)
		return
	}
	if d.inbound == nil {
		counts.Ignored++
		return
	}

	inbound := ExtractInbound(msg)
	inbound.ContactName = names[msg.From]
	inbound.PhoneNumberID = meta.PhoneNumberID
	if err := d.inbound.HandleInbound(ctx, inbound); err != nil {
		d.logger.Error("inbound message processing failed", "message_id", msg.ID, "event_type", msg.Type, "error", err)
		d.fail("message", counts)
		return
	}
	d.metrics.ObserveEvent("message", "ok")
}

func (d *Dispatcher) dispatchStatus(ctx context.Context, raw json.RawMessage, counts *Counts) {
	counts.Statuses++
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		d.logger.Warn("failed to decode status event", "error", err)
		d.fail("status", counts)
		return
	}
	if d.statuses == nil {
		counts.Ignored++
		return
	}

	update := StatusUpdate{
		MessageID:   st.ID,
		Status:      st.Status,
		RecipientID: st.RecipientID,
		Timestamp:   st.Timestamp.Time(),
	}
	if len(st.Errors) > 0 {
		first := st.Errors[0]
		if first.Code != 0 {
			update.ErrorCode = strconv.Itoa(first.Code)
		}
		update.ErrorMessage = firstNonEmpty(first.ErrorData.Details, first.Message, first.Title)
	}
	if err := d.statuses.ApplyStatus(ctx, update); err != nil {
		d.logger.Error("status event processing failed", "message_id", st.ID, "event_type", st.Status, "error", err)
		d.fail("status", counts)
		return
	}
	d.metrics.ObserveEvent("status", "ok")
}

func (d *Dispatcher) dispatchTemplate(ctx context.Context, raw json.RawMessage, counts *Counts) {
	counts.TemplateUpdates++
	var ev TemplateStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.logger.Warn("failed to decode template status event", "error", err)
		d.fail("template", counts)
		return
	}
	if d.templates == nil {
		counts.Ignored++
		return
	}

	update := TemplateStatusUpdate{
		Event:      ev.Event,
		TemplateID: string(ev.MessageTemplateID),
		Name:       ev.MessageTemplateName,
		Language:   ev.MessageTemplateLanguage,
		Reason:     ev.Reason,
	}
	if err := d.templates.ApplyTemplateStatus(ctx, update); err != nil {
		d.logger.Error("template status processing failed", "template", ev.MessageTemplateName, "event_type", ev.Event, "error", err)
		d.fail("template", counts)
		return
	}
	d.metrics.ObserveEvent("template", "ok")
}

func (d *Dispatcher) fail(kind string, counts *Counts) {
	counts.Failed++
	d.metrics.ObserveEvent(kind, "failed")
}

// ExtractInbound flattens a provider message into the text the pipeline
// records. Media without a caption is described by type and media ID.
func ExtractInbound(msg Message) InboundMessage {
	in := InboundMessage{
		From:      msg.From,
		MessageID: msg.ID,
		Type:      msg.Type,
		Timestamp: msg.Timestamp.Time(),
	}

	var media *Media
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			in.Body = msg.Text.Body
		}
		return in
	case "image":
		media = msg.Image
	case "video":
		media = msg.Video
	case "audio":
		media = msg.Audio
	case "document":
		media = msg.Document
	case "sticker":
		media = msg.Sticker
	case "button":
		if msg.Button != nil {
			in.Body = firstNonEmpty(msg.Button.Text, msg.Button.Payload)
		}
		return in
	case "interactive":
		if msg.Interactive != nil {
			switch {
			case msg.Interactive.ButtonReply != nil:
				in.Body = msg.Interactive.ButtonReply.Title
			case msg.Interactive.ListReply != nil:
				in.Body = msg.Interactive.ListReply.Title
			}
		}
		return in
	default:
		if msg.Text != nil && msg.Text.Body != "" {
			in.Body = msg.Text.Body
			return in
		}
		in.Body = fmt.Sprintf("[Unknown type: %s]", msg.Type)
		return in
	}

	if media == nil {
		in.Body = fmt.Sprintf("[%s message]", msg.Type)
		return in
	}
	in.MediaID = media.ID
	if caption := strings.TrimSpace(media.Caption); caption != "" {
		in.Body = caption
	} else {
		in.Body = fmt.Sprintf("[%s message, ID: %s]", msg.Type, media.ID)
	}
	return in
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
