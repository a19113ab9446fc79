package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverseAPI struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(12),
			OutputTokens: aws.Int32(4),
			TotalTokens:  aws.Int32(16),
		},
	}
}

func TestBedrockLLMClient_Complete(t *testing.T) {
	api := &fakeConverseAPI{out: textOutput(" Hi! How can I help? ")}
	client := NewBedrockLLMClient(api)

	resp, err := client.Complete(context.Background(), LLMRequest{
		Model:  "anthropic.claude-3-haiku",
		System: []string{"be brief", " "},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "hello"},
			{Role: ChatRoleSystem, Content: "extra rule"},
			{Role: ChatRoleAssistant, Content: "hi"},
			{Role: ChatRoleUser, Content: "prices?"},
		},
		MaxTokens:   150,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.EqualValues(t, 16, resp.Usage.TotalTokens)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 2)
	assert.Len(t, api.input.Messages, 3)
	require.NotNil(t, api.input.InferenceConfig)
	assert.EqualValues(t, 150, aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockLLMClient_Errors(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverseAPI{out: textOutput("x")})
	_, err := client.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)

	_, err = client.Complete(context.Background(), LLMRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: "tool", Content: "x"}},
	})
	require.Error(t, err)

	apiErr := errors.New("throttled")
	client = NewBedrockLLMClient(&fakeConverseAPI{err: apiErr})
	_, err = client.Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}})
	require.ErrorIs(t, err, apiErr)

	client = NewBedrockLLMClient(&fakeConverseAPI{out: textOutput("  ")})
	_, err = client.Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}})
	require.Error(t, err)
}

func TestBedrockInference_OmittedWhenUnset(t *testing.T) {
	assert.Nil(t, bedrockInference(LLMRequest{Temperature: -1}))
	cfg := bedrockInference(LLMRequest{Temperature: 0})
	require.NotNil(t, cfg)
	assert.Equal(t, float32(0), aws.ToFloat32(cfg.Temperature))
	assert.Nil(t, cfg.TopP, "top-p is left to the provider")
}
