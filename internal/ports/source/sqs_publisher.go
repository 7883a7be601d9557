package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"recordstore.service/pkg/telemetry"
)

// SQSSendClient is the slice of the AWS SQS client the publisher needs.
type SQSSendClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher is the producing side of the change feed: the relay uses it
// to forward store change notifications onto the queue the views poll.
type SQSPublisher struct {
	client   SQSSendClient
	queueURL string
}

// NewSQSPublisher returns a publisher for the given queue.
func NewSQSPublisher(client SQSSendClient, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish sends one change event, stamping OccurredAt if the producer did
// not, and propagating the current trace context in message attributes.
func (p *SQSPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	attributes := telemetry.InjectTraceContext(ctx)
	attributes["EventType"] = sqsStringAttr(string(ev.Type))

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to send change event to feed queue: %w", err)
	}
	return nil
}

func sqsStringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
