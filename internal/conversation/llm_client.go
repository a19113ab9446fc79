package conversation

import "context"

// Roles of a ChatMessage. Lead turns are user turns and auto-replies are
// assistant turns; system carries the reply instructions.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one conversation turn as sent to a reply model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is what one auto-reply cost, as reported by the model provider.
// Zero when the provider does not report it.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest asks for the next reply in a lead's conversation. Messages end
// with the lead's latest inbound text. An empty Model uses the client's
// default and a negative Temperature leaves the provider default in place.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

// LLMResponse is the generated reply text. StopReason is provider specific
// and only logged.
type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient generates reply text for ReplyService. Bedrock, Gemini and the
// static client implement it.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
