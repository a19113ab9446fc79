package messaging

import (
	"strings"

	"github.com/google/uuid"
)

// SurrogatePrefix marks IDs minted locally. Provider IDs start with "wamid." so
// the two namespaces never overlap.
const SurrogatePrefix = "local."

// NewSurrogateID returns a random message ID for messages the provider did not identify.
func NewSurrogateID() string {
	return SurrogatePrefix + uuid.NewString()
}

// IsSurrogateID reports whether id was minted by NewSurrogateID.
func IsSurrogateID(id string) bool {
	return strings.HasPrefix(id, SurrogatePrefix)
}
