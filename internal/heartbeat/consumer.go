// Package heartbeat feeds device connectivity pings from an SQS queue into running sessions.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

// Queue is the part of *sqs.Client the consumer uses
type Queue interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Recorder forwards a heartbeat to the session it belongs to
type Recorder interface {
	RecordHeartbeat(ctx context.Context, sessionID, source string) error
}

// Message is the body published by devices and structure sensors
type Message struct {
	SessionID string    `json:"sessionId"`
	Source    string    `json:"source"`
	SentAt    time.Time `json:"sentAt,omitempty"`
}

type Consumer struct {
	queue      Queue
	queueURL   string
	recorder   Recorder
	retryDelay time.Duration
}

func NewConsumer(queue Queue, queueURL string, recorder Recorder) *Consumer {
	return &Consumer{
		queue:      queue,
		queueURL:   queueURL,
		recorder:   recorder,
		retryDelay: 5 * time.Second,
	}
}

// Start long-polls the queue until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) {
	log.Printf("Heartbeat consumer listening on %s", c.queueURL)
	for {
		if ctx.Err() != nil {
			log.Println("Heartbeat consumer stopped")
			return
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("Heartbeat consumer: failed to receive messages: %v", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return err
	}

	for _, message := range result.Messages {
		if err := c.handle(ctx, message); err != nil {
			// left on the queue; redelivered after the visibility timeout
			log.Printf("Heartbeat consumer: message %s: %v", aws.ToString(message.MessageId), err)
			continue
		}
		c.delete(ctx, message.ReceiptHandle)
	}
	return nil
}

// handle returns an error only for failures worth redelivering
func (c *Consumer) handle(ctx context.Context, message types.Message) error {
	var msg Message
	if message.Body == nil || json.Unmarshal([]byte(*message.Body), &msg) != nil || msg.SessionID == "" {
		log.Printf("Heartbeat consumer: dropping malformed message %s", aws.ToString(message.MessageId))
		return nil
	}

	err := c.recorder.RecordHeartbeat(ctx, msg.SessionID, msg.Source)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", msg.SessionID, err)
	}
	return nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		return
	}
	_, err := c.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		log.Printf("Heartbeat consumer: failed to delete message: %v", err)
	}
}
