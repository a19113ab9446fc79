package messaging

import (
	"errors"
	"time"
)

// ErrMessageNotFound is returned when no message carries the requested ID.
var ErrMessageNotFound = errors.New("message not found")

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleAgent    SenderRole = "agent"
	RoleAI       SenderRole = "ai"
	RoleTemplate SenderRole = "template"
)

// Message is one inbound or outbound message. ID is the provider message ID, or a
// surrogate ID when the provider did not return one. Only Status, ErrorCode and
// ErrorMessage change after creation.
type Message struct {
	ID           string     `json:"id"`
	Surrogate    bool       `json:"surrogate"`
	PhoneKey     string     `json:"phone_key"`
	Direction    Direction  `json:"direction"`
	Status       Status     `json:"status"`
	SenderRole   SenderRole `json:"sender_role"`
	Body         string     `json:"body"`
	MediaRef     string     `json:"media_ref,omitempty"`
	MediaType    string     `json:"media_type,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Turn is one append-only entry in a lead's conversation history.
type Turn struct {
	ID         string     `json:"id"`
	LeadID     string     `json:"lead_id"`
	MessageID  string     `json:"message_id"`
	PhoneKey   string     `json:"phone_key"`
	Direction  Direction  `json:"direction"`
	SenderRole SenderRole `json:"sender_role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Stats is a simple count over a set of messages.
type Stats struct {
	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Received     int     `json:"received"`
	Delivered    int     `json:"delivered"`
	Seen         int     `json:"seen"`
	Failed       int     `json:"failed"`
	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
}

// ComputeStats counts messages by direction and status. Delivered includes seen
// messages, since a seen message was necessarily delivered. Rates are over
// outbound messages and are zero when there are none.
func ComputeStats(messages []Message) Stats {
	var s Stats
	for _, m := range messages {
		s.Total++
		if m.Direction == DirectionInbound {
			s.Received++
			continue
		}
		s.Sent++
		switch m.Status {
		case StatusDelivered:
			s.Delivered++
		case StatusSeen:
			s.Delivered++
			s.Seen++
		case StatusFailed:
			s.Failed++
		}
	}
	if s.Sent > 0 {
		s.DeliveryRate = round2(float64(s.Delivered) / float64(s.Sent) * 100)
		s.ReadRate = round2(float64(s.Seen) / float64(s.Sent) * 100)
	}
	return s
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
