package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"zipsea/internal/types"
)

// sqsMaxDelay is the SQS DelaySeconds ceiling (15 minutes).
const sqsMaxDelay = 900 * time.Second

// SQSAPI abstracts the SQS operations the queue uses, for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue is the production Queue over one SQS queue URL.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

// NewSQSQueue creates an SQSQueue with the given client and queue URL.
func NewSQSQueue(client SQSAPI, queueURL string, logger *slog.Logger) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger}
}

// Publish serializes the SyncMessage and sends it, deferring visibility by
// delay. Delays beyond the SQS ceiling are clamped; the requeue budget, not
// the delay length, bounds how long a contended unit can wait.
func (q *SQSQueue) Publish(ctx context.Context, msg types.SyncMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal SyncMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}
	if delay > 0 {
		if delay > sqsMaxDelay {
			delay = sqsMaxDelay
		}
		input.DelaySeconds = int32(delay / time.Second)
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeQueueBackend,
			fmt.Sprintf("failed to send sync message to %s", q.queueURL), err)
	}

	q.logger.InfoContext(ctx, "sync message published",
		slog.String("batch_id", msg.BatchID),
		slog.String("unit_id", msg.UnitID),
		slog.String("kind", string(msg.Kind)),
		slog.Int("attempt", msg.Attempt),
		slog.Duration("delay", delay),
		slog.String("trace_id", msg.TraceID),
	)
	return nil
}

// Receive long-polls for up to max messages. Messages whose bodies do not
// parse are deleted immediately; redelivering a permanently malformed body
// would loop forever.
func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10 // SQS per-call ceiling
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
			sqsTypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueBackend, "failed to receive sync messages", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		var msg types.SyncMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
			q.logger.ErrorContext(ctx, "dropping malformed sync message",
				slog.String("message_id", aws.ToString(m.MessageId)),
				slog.String("error", err.Error()))
			_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			continue
		}

		d := Delivery{
			Message:       msg,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if ts, ok := m.Attributes[string(sqsTypes.MessageSystemAttributeNameSentTimestamp)]; ok {
			if millis, err := strconv.ParseInt(ts, 10, 64); err == nil {
				d.Enqueued = time.UnixMilli(millis)
			}
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// Ack deletes the message so SQS stops redelivering it.
func (q *SQSQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.ReceiptHandle),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueBackend, "failed to delete sync message", err)
	}
	return nil
}

// Ping checks the queue is reachable.
func (q *SQSQueue) Ping(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueBackend, "sync queue unreachable", err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no long-lived connections of its own.
func (q *SQSQueue) Close() error { return nil }

var _ Queue = (*SQSQueue)(nil)
