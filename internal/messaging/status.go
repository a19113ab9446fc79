package messaging

import (
	"fmt"
	"strings"
)

// Status is the internal message status. Values outside the known set are
// provider statuses passed through unchanged.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReceived  Status = "received"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusFailed    Status = "failed"
)

// providerStatuses maps provider vocabulary onto internal statuses. Anything not
// listed is passed through.
var providerStatuses = map[string]Status{
	"accepted":    StatusPending,
	"pending":     StatusPending,
	"queued":      StatusPending,
	"sent":        StatusSent,
	"delivered":   StatusDelivered,
	"read":        StatusSeen,
	"seen":        StatusSeen,
	"played":      StatusSeen,
	"failed":      StatusFailed,
	"undelivered": StatusFailed,
	"deleted":     StatusFailed,
}

// statusRank orders known statuses. failed ranks highest, so it is terminal.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusReceived:  0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
	StatusFailed:    4,
}

func init() {
	for provider, status := range providerStatuses {
		if provider != strings.ToLower(provider) {
			panic(fmt.Sprintf("messaging: provider status %q must be lowercase", provider))
		}
		if _, ok := statusRank[status]; !ok {
			panic(fmt.Sprintf("messaging: provider status %q maps to unranked status %q", provider, status))
		}
	}
}

// MapProviderStatus translates a provider status. known is false when the value
// was passed through unchanged.
func MapProviderStatus(raw string) (status Status, known bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := providerStatuses[key]; ok {
		return mapped, true
	}
	return Status(strings.TrimSpace(raw)), false
}

// Rank returns the progression rank of s, or -1 for pass-through statuses.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Supersedes reports whether moving from current to s keeps the status
// monotonic. Pass-through statuses on either side always apply.
func (s Status) Supersedes(current Status) bool {
	next, cur := s.Rank(), current.Rank()
	if next < 0 || cur < 0 {
		return true
	}
	return next >= cur
}
