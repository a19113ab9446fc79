package templates

import (
	"errors"
	"strings"
	"time"
)

// ErrTemplateNotFound is returned when no template has the requested name.
var ErrTemplateNotFound = errors.New("template not found")

type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusPaused          Status = "paused"
	StatusDisabled        Status = "disabled"
	StatusFlagged         Status = "flagged"
	StatusInAppeal        Status = "in_appeal"
	StatusPendingDeletion Status = "pending_deletion"
	StatusDeleted         Status = "deleted"
)

// Template is an outbound message template registered with the provider.
// Status only changes through provider lifecycle events.
type Template struct {
	Name               string    `json:"name"`
	Body               string    `json:"body"`
	Category           string    `json:"category,omitempty"`
	Language           string    `json:"language,omitempty"`
	Status             Status    `json:"status"`
	RejectionReason    string    `json:"rejection_reason,omitempty"`
	ProviderTemplateID string    `json:"provider_template_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

var providerEvents = map[string]Status{
	"APPROVED":         StatusApproved,
	"REJECTED":         StatusRejected,
	"PENDING":          StatusPending,
	"PAUSED":           StatusPaused,
	"DISABLED":         StatusDisabled,
	"FLAGGED":          StatusFlagged,
	"IN_APPEAL":        StatusInAppeal,
	"LIMIT_EXCEEDED":   StatusRejected,
	"REINSTATED":       StatusApproved,
	"PENDING_DELETION": StatusPendingDeletion,
	"DELETED":          StatusDeleted,
}

// MapProviderEvent translates a provider lifecycle event. Unknown events pass
// through lowercased with known=false.
func MapProviderEvent(event string) (status Status, known bool) {
	key := strings.ToUpper(strings.TrimSpace(event))
	if mapped, ok := providerEvents[key]; ok {
		return mapped, true
	}
	return Status(strings.ToLower(strings.TrimSpace(event))), false
}

// NoReason is the placeholder the provider sends when there is no rejection reason.
const NoReason = "NONE"

// NormalizeReason drops the provider's "NONE" placeholder.
func NormalizeReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if strings.EqualFold(reason, NoReason) {
		return ""
	}
	return reason
}
