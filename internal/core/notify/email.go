package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notifier alerts operations when a local edit is parked with a failure
// flag and needs attention.
type Notifier interface {
	EditFailed(ctx context.Context, identity string, cause error) error
}

// SESNotifier sends the alert as a plain-text email through AWS SES.
type SESNotifier struct {
	client    *ses.Client
	sender    string
	recipient string
}

// NewSESNotifier wires a notifier for the given addresses.
func NewSESNotifier(client *ses.Client, sender, recipient string) *SESNotifier {
	return &SESNotifier{client: client, sender: sender, recipient: recipient}
}

// EditFailed emails the parked edit's identity and the rejection cause.
func (n *SESNotifier) EditFailed(ctx context.Context, identity string, cause error) error {
	tracer := otel.Tracer("ses-notifier")
	ctx, span := tracer.Start(ctx, "send_edit_failed_alert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("app.record_identity", identity))

	input := &ses.SendEmailInput{
		Source: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{n.recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Attendance edit requires attention"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(fmt.Sprintf(
						"The store rejected an edit to attendance record %s.\n\nCause: %v\n\nThe submitted values are retained and flagged in the view.",
						identity, cause)),
				},
			},
		},
	}

	_, err := n.client.SendEmail(ctx, input)
	return err
}
