package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []sqstypes.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_RoundTrip(t *testing.T) {
	api := &fakeSQS{}
	queue := NewSQSQueue(api, "https://sqs.local/webhooks")
	ctx := context.Background()

	require.NoError(t, queue.Send(ctx, "payload"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "https://sqs.local/webhooks", aws.ToString(api.sent[0].QueueUrl))
	assert.Equal(t, "payload", aws.ToString(api.sent[0].MessageBody))

	api.messages = []sqstypes.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String("payload"),
		ReceiptHandle: aws.String("rh-1"),
	}}
	msgs, err := queue.Receive(ctx, 5, 2)
	require.NoError(t, err)
	require.Equal(t, []QueueMessage{{ID: "m-1", Body: "payload", ReceiptHandle: "rh-1"}}, msgs)

	require.NoError(t, queue.Delete(ctx, "rh-1"))
	require.NoError(t, queue.Delete(ctx, ""))
	assert.Equal(t, []string{"rh-1"}, api.deleted)
}

func TestSQSQueue_WrapsErrors(t *testing.T) {
	apiErr := errors.New("access denied")
	queue := NewSQSQueue(&fakeSQS{err: apiErr}, "https://sqs.local/webhooks")

	require.ErrorIs(t, queue.Send(context.Background(), "x"), apiErr)
	_, err := queue.Receive(context.Background(), 1, 0)
	require.ErrorIs(t, err, apiErr)
	require.ErrorIs(t, queue.Delete(context.Background(), "rh"), apiErr)
}
