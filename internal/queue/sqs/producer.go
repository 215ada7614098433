package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"chatdispatch/internal/observability"
	"chatdispatch/internal/queue"
)

// MaxDelay is the longest per-message delay SQS accepts. Longer delays ride in
// the envelope's NotBefore and are re-deferred by the consumer.
const MaxDelay = 15 * time.Minute

// API is the slice of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var _ API = (*sqs.Client)(nil)

type Producer struct {
	SQS      API
	QueueURL string
	Now      func() time.Time
}

var _ queue.Enqueuer = (*Producer)(nil)

func (p *Producer) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	seconds, notBefore := delayFor(now, delay)
	job.NotBefore = notBefore

	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     &p.QueueURL,
		MessageBody:  str(string(body)),
		DelaySeconds: seconds,
	})
	if err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		return err
	}
	observability.Enqueues.WithLabelValues("ok").Inc()
	return nil
}

// delayFor splits a delay into the whole seconds SQS will hold the message and
// the instant the job becomes due.
func delayFor(now time.Time, delay time.Duration) (int32, time.Time) {
	if delay <= 0 {
		return 0, time.Time{}
	}
	held := delay
	if held > MaxDelay {
		held = MaxDelay
	}
	return int32(held / time.Second), now.Add(delay).UTC()
}

func str(s string) *string { return &s }
