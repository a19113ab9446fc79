package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

const (
	DefaultSystemPrompt = "You are a helpful customer support agent. Keep responses concise and professional."
	DefaultFallbackText = "Thank you for your message. An agent will respond soon."

	defaultContextTurns = 5
	defaultMaxTokens    = 150
	defaultTemperature  = 0.7
)

// ErrEmptyInbound is returned when there is no customer text to reply to.
var ErrEmptyInbound = errors.New("conversation: inbound text is empty")

// ReplyConfig configures a ReplyService. Zero values take the defaults above;
// a nil Client makes every reply the fallback text.
type ReplyConfig struct {
	Client       LLMClient
	Model        string
	SystemPrompt string
	FallbackText string
	ContextTurns int
	MaxTokens    int32
	Temperature  float32
	Logger       *logging.Logger
}

// ReplyService turns an inbound customer message plus recent history into the
// text of an automatic reply.
type ReplyService struct {
	client       LLMClient
	model        string
	systemPrompt string
	fallbackText string
	contextTurns int
	maxTokens    int32
	temperature  float32
	logger       *logging.Logger
}

func NewReplyService(cfg ReplyConfig) *ReplyService {
	s := &ReplyService{
		client:       cfg.Client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		fallbackText: cfg.FallbackText,
		contextTurns: cfg.ContextTurns,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		logger:       cfg.Logger,
	}
	if strings.TrimSpace(s.systemPrompt) == "" {
		s.systemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(s.fallbackText) == "" {
		s.fallbackText = DefaultFallbackText
	}
	if s.contextTurns <= 0 {
		s.contextTurns = defaultContextTurns
	}
	if s.maxTokens <= 0 {
		s.maxTokens = defaultMaxTokens
	}
	if s.temperature == 0 {
		s.temperature = defaultTemperature
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// GenerateReply asks the LLM for a reply to inboundText. history is the lead's
// conversation, oldest first; only the last ContextTurns entries are sent and
// a trailing copy of the inbound message is dropped. LLM failures and empty
// completions are logged and answered with the fallback text.
func (s *ReplyService) GenerateReply(ctx context.Context, inboundText string, history []messaging.Turn) (string, error) {
	inboundText = strings.TrimSpace(inboundText)
	if inboundText == "" {
		return "", ErrEmptyInbound
	}
	if s.client == nil {
		return s.fallbackText, nil
	}

	req := LLMRequest{
		Model:       s.model,
		System:      []string{s.systemPrompt},
		Messages:    s.buildMessages(inboundText, history),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Warn("reply generation failed, using fallback text", "error", err)
		return s.fallbackText, nil
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		s.logger.Warn("reply generation returned empty text, using fallback text",
			"stop_reason", resp.StopReason,
		)
		return s.fallbackText, nil
	}
	s.logger.Debug("reply generated",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return text, nil
}

func (s *ReplyService) buildMessages(inboundText string, history []messaging.Turn) []ChatMessage {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Direction == messaging.DirectionInbound && strings.TrimSpace(last.Body) == inboundText {
			history = history[:n-1]
		}
	}
	if len(history) > s.contextTurns {
		history = history[len(history)-s.contextTurns:]
	}

	messages := make([]ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		role := ChatRoleUser
		if turn.Direction == messaging.DirectionOutbound {
			role = ChatRoleAssistant
		}
		messages = appendChat(messages, role, turn.Body)
	}
	return appendChat(messages, ChatRoleUser, inboundText)
}

// appendChat merges consecutive same-role messages and drops leading assistant
// messages, so transcripts alternate and open with the user.
func appendChat(messages []ChatMessage, role, body string) []ChatMessage {
	body = strings.TrimSpace(body)
	if body == "" {
		return messages
	}
	if len(messages) == 0 && role == ChatRoleAssistant {
		return messages
	}
	if n := len(messages); n > 0 && messages[n-1].Role == role {
		messages[n-1].Content += "\n" + body
		return messages
	}
	return append(messages, ChatMessage{Role: role, Content: body})
}

// StaticLLMClient always answers with the same text. It backs the "static"
// reply provider.
type StaticLLMClient struct {
	Text string
}

func (c StaticLLMClient) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	return LLMResponse{Text: c.Text, StopReason: "static"}, nil
}
