package source

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"recordstore.service/pkg/telemetry"
)

// SQSReceiveClient is the slice of the AWS SQS client the feed consumes.
type SQSReceiveClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSFeed delivers the store's change feed from an SQS queue. Delivery is
// at-least-once and unordered; consumers reconcile through the merge
// buffer's time comparison, so messages are deleted as soon as they are
// handed over.
type SQSFeed struct {
	client   SQSReceiveClient
	queueURL string
}

// NewSQSFeed returns a feed polling the given queue.
func NewSQSFeed(client SQSReceiveClient, queueURL string) *SQSFeed {
	return &SQSFeed{client: client, queueURL: queueURL}
}

// Subscribe starts a long-poll loop for the table's change events. The
// returned stream closes when ctx is cancelled.
func (f *SQSFeed) Subscribe(ctx context.Context, table string, events []EventType) (<-chan ChangeEvent, error) {
	wanted := make(map[EventType]struct{}, len(events))
	for _, e := range events {
		wanted[e] = struct{}{}
	}

	ch := make(chan ChangeEvent, 32)
	go f.poll(ctx, table, wanted, ch)
	return ch, nil
}

// poll is the consumer loop, shaped like the store's batch workers: fetch,
// hand over, delete. A message that fails to decode is logged and deleted
// rather than poisoning the queue.
func (f *SQSFeed) poll(ctx context.Context, table string, wanted map[EventType]struct{}, ch chan<- ChangeEvent) {
	defer close(ch)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			output, err := f.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              &f.queueURL,
				MaxNumberOfMessages:   10,
				WaitTimeSeconds:       20,
				MessageAttributeNames: []string{"All"},
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Error receiving change-feed messages")
				continue
			}
			for _, msg := range output.Messages {
				f.handleMessage(ctx, msg, table, wanted, ch)
			}
		}
	}
}

func (f *SQSFeed) handleMessage(ctx context.Context, msg types.Message, table string, wanted map[EventType]struct{}, ch chan<- ChangeEvent) {
	ctx, span := telemetry.StartSpanFromFeedMessage(ctx, msg)
	defer span.End()

	if msg.Body != nil {
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(*msg.Body), &ev); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Malformed change-feed message, dropping")
		} else if f.relevant(ev, table, wanted) {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}

	_, _ = f.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &f.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
}

func (f *SQSFeed) relevant(ev ChangeEvent, table string, wanted map[EventType]struct{}) bool {
	if ev.Table != table {
		return false
	}
	if len(wanted) == 0 {
		return true
	}
	_, ok := wanted[ev.Type]
	return ok
}
