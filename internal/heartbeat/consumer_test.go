package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *mockQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, args.Error(0)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordHeartbeat(ctx context.Context, sessionID, source string) error {
	return m.Called(ctx, sessionID, source).Error(0)
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestConsumer_Poll(t *testing.T) {
	queue := new(mockQueue)
	recorder := new(mockRecorder)
	c := NewConsumer(queue, "https://sqs.local/heartbeats", recorder)

	queue.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "https://sqs.local/heartbeats" && in.WaitTimeSeconds == 20
	})).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
		message("1", `{"sessionId":"sess-1","source":"beacon-7"}`),
		message("2", `{"sessionId":"sess-gone","source":"app"}`),
		message("3", `{"sessionId":"sess-3","source":"app"}`),
		message("4", `not json`),
	}}, nil).Once()

	recorder.On("RecordHeartbeat", mock.Anything, "sess-1", "beacon-7").Return(nil)
	recorder.On("RecordHeartbeat", mock.Anything, "sess-gone", "app").Return(fmt.Errorf("%w: no running session", models.ErrNotFound))
	recorder.On("RecordHeartbeat", mock.Anything, "sess-3", "app").Return(errors.New("temporal unavailable"))

	queue.On("DeleteMessage", mock.Anything, "rh-1").Return(nil).Once()
	queue.On("DeleteMessage", mock.Anything, "rh-2").Return(nil).Once()
	queue.On("DeleteMessage", mock.Anything, "rh-4").Return(nil).Once()

	require.NoError(t, c.poll(context.Background()))

	queue.AssertExpectations(t)
	recorder.AssertExpectations(t)
	queue.AssertNotCalled(t, "DeleteMessage", mock.Anything, "rh-3")
}

func TestConsumer_StartStopsOnCancel(t *testing.T) {
	queue := new(mockQueue)
	recorder := new(mockRecorder)
	c := NewConsumer(queue, "q", recorder)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	queue.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("throttled")).
		Run(func(mock.Arguments) { cancel() })

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.GreaterOrEqual(t, len(queue.Calls), 1)
}
