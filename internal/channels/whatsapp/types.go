package whatsapp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ObjectWhatsAppBusinessAccount is the only envelope object this package processes.
const ObjectWhatsAppBusinessAccount = "whatsapp_business_account"

// FieldTemplateStatusUpdate is the change field Meta uses for template lifecycle events.
const FieldTemplateStatusUpdate = "message_template_status_update"

// WebhookEvent is the top-level structure received from Meta's webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field update. Value is decoded lazily so a malformed
// change does not reject its siblings.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// ChangeValue is the value of a "messages" change.
type ChangeValue struct {
	MessagingProduct     string            `json:"messaging_product"`
	Metadata             Metadata          `json:"metadata"`
	Contacts             []Contact         `json:"contacts"`
	Messages             []json.RawMessage `json:"messages"`
	Statuses             []json.RawMessage `json:"statuses"`
	TemplateStatusUpdate json.RawMessage   `json:"message_template_status_update"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Message is an inbound message as sent by the provider.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   FlexString   `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Document    *Media       `json:"document,omitempty"`
	Sticker     *Media       `json:"sticker,omitempty"`
	Button      *Button      `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Status is a delivery status event for a previously sent message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   FlexString    `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

// TemplateStatusEvent is the payload of a template lifecycle change.
type TemplateStatusEvent struct {
	Event                   string     `json:"event"`
	MessageTemplateID       FlexString `json:"message_template_id"`
	MessageTemplateName     string     `json:"message_template_name"`
	MessageTemplateLanguage string     `json:"message_template_language"`
	Reason                  string     `json:"reason"`
}

// FlexString accepts either a JSON string or a JSON number. The provider is
// not consistent about quoting timestamps and template IDs.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Time interprets the value as unix seconds. Anything else yields the zero time.
func (f FlexString) Time() time.Time {
	secs, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// InboundMessage is a customer message extracted from a webhook.
type InboundMessage struct {
	From          string
	ContactName   string
	MessageID     string
	Type          string
	Body          string
	MediaID       string
	PhoneNumberID string
	Timestamp     time.Time
}

// StatusUpdate is a delivery status extracted from a webhook.
type StatusUpdate struct {
	MessageID    string
	Status       string
	RecipientID  string
	Timestamp    time.Time
	ErrorCode    string
	ErrorMessage string
}

// TemplateStatusUpdate is a template lifecycle change extracted from a webhook.
type TemplateStatusUpdate struct {
	Event      string
	TemplateID string
	Name       string
	Language   string
	Reason     string
}

// SendRequest is the Cloud API payload for a text message.
type SendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             SendText `json:"text"`
}

type SendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// SendResponse is the Cloud API reply to a send request.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is a Graph API error object.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}
