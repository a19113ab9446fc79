package conversation

import (
	"context"

	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// FallbackLLMClient retries a failed completion against a second provider.
type FallbackLLMClient struct {
	primary       LLMClient
	fallback      LLMClient
	fallbackModel string
	logger        *logging.Logger
}

// NewFallbackLLMClient wraps primary. A nil fallback disables the retry.
// fallbackModel replaces the request model on the retry when set, since model
// IDs are not portable between providers.
func NewFallbackLLMClient(primary, fallback LLMClient, fallbackModel string, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: primary llm client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:       primary,
		fallback:      fallback,
		fallbackModel: fallbackModel,
		logger:        logger,
	}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return LLMResponse{}, err
	}

	if c.fallbackModel != "" {
		req.Model = c.fallbackModel
	}
	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}
