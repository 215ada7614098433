// Package queue defines the dispatch job envelope and the producer/consumer
// contracts shared by the SQS and in-memory queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

const KindSendMessage Kind = "send_message"

var ErrInvalidJob = errors.New("invalid job")

// SendMessage asks the dispatcher to deliver one campaign contact.
type SendMessage struct {
	CampaignID   string            `json:"campaignId"`
	ContactID    string            `json:"contactId"`
	PhoneNumber  string            `json:"phoneNumber"`
	Template     string            `json:"template"`
	Variables    map[string]string `json:"variables,omitempty"`
	SenderIDs    []string          `json:"senderIds,omitempty"`
	EnableTyping bool              `json:"enableTyping"`
}

// Job is the tagged envelope crossing the queue. Exactly one payload matches Kind.
type Job struct {
	Kind      Kind      `json:"kind"`
	Attempt   int       `json:"attempt"`
	NotBefore time.Time `json:"notBefore,omitempty"`

	SendMessage *SendMessage `json:"sendMessage,omitempty"`
}

func NewSendMessage(p SendMessage) Job {
	return Job{Kind: KindSendMessage, Attempt: 1, SendMessage: &p}
}

func (j Job) Validate() error {
	switch j.Kind {
	case KindSendMessage:
		p := j.SendMessage
		if p == nil {
			return fmt.Errorf("%w: %s without payload", ErrInvalidJob, j.Kind)
		}
		if p.CampaignID == "" || p.ContactID == "" || p.PhoneNumber == "" {
			return fmt.Errorf("%w: %s missing campaign, contact or phone", ErrInvalidJob, j.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	if j.Attempt < 1 {
		return fmt.Errorf("%w: attempt %d", ErrInvalidJob, j.Attempt)
	}
	return nil
}

// Decode parses and validates a job body.
func Decode(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Next is the job to enqueue for the following attempt.
func (j Job) Next() Job {
	j.Attempt++
	j.NotBefore = time.Time{}
	return j
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// Delivery is one received job. Exactly one of Ack or Retry settles it.
type Delivery interface {
	Job() Job
	Ack(ctx context.Context) error
	// Retry schedules the next attempt after delay and settles this one.
	Retry(ctx context.Context, delay time.Duration) error
}

type Handler func(ctx context.Context, d Delivery)

// Consumer feeds deliveries to at most workers concurrent handlers until ctx is done.
type Consumer interface {
	PollConcurrent(ctx context.Context, workers int, h Handler) error
}

// Gate blocks until the next job may be taken off the queue.
type Gate func(ctx context.Context) error

// GatedConsumer passes gate before receiving each job, so no job waits
// received but unstarted behind a rate limit.
type GatedConsumer interface {
	Consumer
	PollGated(ctx context.Context, workers int, gate Gate, h Handler) error
}
