package sqsqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"chatdispatch/internal/queue"
)

// maxVisibility is the SQS ceiling for ChangeMessageVisibility.
const maxVisibility = 12 * time.Hour

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32

	Now func() time.Time
}

var _ queue.GatedConsumer = (*Consumer)(nil)

func (c *Consumer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// PollConcurrent processes messages with a worker pool. A message is deleted
// only when its delivery is acked or retried.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler queue.Handler) error {
	return c.poll(ctx, workers, nil, handler)
}

// PollGated receives one message per gate pass and hands it straight to an
// idle worker, so the visibility timeout only has to cover one job.
func (c *Consumer) PollGated(ctx context.Context, workers int, gate queue.Gate, handler queue.Handler) error {
	return c.poll(ctx, workers, gate, handler)
}

func (c *Consumer) poll(ctx context.Context, workers int, gate queue.Gate, handler queue.Handler) error {
	if workers <= 0 {
		workers = 1
	}

	buffer, batch := workers*2, c.MaxMessages
	if gate != nil {
		buffer, batch = 0, 1
	}
	jobs := make(chan types.Message, buffer)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}
			if gate != nil {
				if err := gate(ctx); err != nil {
					sendErr(err)
					return
				}
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: batch,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("sqs receive message failed", "err", err)
				}
				time.Sleep(500 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	// Wait for shutdown signal (ctx canceled) or producer signals error
	err := <-errCh

	// Let workers finish whatever is already in `jobs` (channel will be closed by producer)
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler queue.Handler) {
	settleCtx := context.WithoutCancel(ctx)

	// Always drop poison / invalid messages so they don't loop forever
	if m.Body == nil {
		c.delete(settleCtx, m.ReceiptHandle)
		return
	}
	job, err := queue.Decode([]byte(*m.Body))
	if err != nil {
		slog.Warn("dropping invalid job", "message_id", deref(m.MessageId), "err", err)
		c.delete(settleCtx, m.ReceiptHandle)
		return
	}

	if !job.NotBefore.IsZero() {
		remaining := job.NotBefore.Sub(c.now())
		if remaining >= time.Second {
			c.postpone(settleCtx, m.ReceiptHandle, remaining)
			return
		}
		if remaining > 0 {
			time.Sleep(remaining)
		}
	}

	handler(ctx, &delivery{c: c, job: job, receipt: m.ReceiptHandle})
}

// postpone hides a not-yet-due message until it is due.
func (c *Consumer) postpone(ctx context.Context, receipt *string, d time.Duration) {
	if d > maxVisibility {
		d = maxVisibility
	}
	secs := int32((d + time.Second - 1) / time.Second)
	_, err := c.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.QueueURL,
		ReceiptHandle:     receipt,
		VisibilityTimeout: secs,
	})
	if err != nil {
		slog.Error("sqs defer message failed", "err", err)
	}
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: receipt,
	})
	if err != nil {
		slog.Error("sqs delete message failed", "err", err)
	}
}

type delivery struct {
	c       *Consumer
	job     queue.Job
	receipt *string
}

func (d *delivery) Job() queue.Job { return d.job }

func (d *delivery) Ack(ctx context.Context) error {
	_, err := d.c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &d.c.QueueURL,
		ReceiptHandle: d.receipt,
	})
	return err
}

// Retry enqueues the next attempt as a new message, then deletes this one.
// If the delete fails the message is redelivered after its visibility timeout.
func (d *delivery) Retry(ctx context.Context, delay time.Duration) error {
	p := Producer{SQS: d.c.SQS, QueueURL: d.c.QueueURL, Now: d.c.Now}
	if err := p.Enqueue(ctx, d.job.Next(), delay); err != nil {
		return err
	}
	return d.Ack(ctx)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
