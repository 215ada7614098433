// Package fanout sends one message to many recipients over a single sender
// without the dispatch queue.
package fanout

import (
	"context"
	"sync"
	"time"

	"chatdispatch/internal/domain"
	"chatdispatch/internal/observability"
	"chatdispatch/internal/util"
)

// DefaultGroupDelay separates consecutive broadcast groups.
const DefaultGroupDelay = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, to, text string) (messageID string, err error)
}

// errInvalidNumber is reported for inputs that normalize to nothing.
const errInvalidNumber = "invalid phone number"

// all normalizes and sends to every number at once, reporting per-item
// results in input order. Unparsable numbers fail without a send.
func all(ctx context.Context, conn Sender, path string, numbers []string, message string) []domain.SendItemResult {
	results := make([]domain.SendItemResult, len(numbers))
	var wg sync.WaitGroup
	for i, raw := range numbers {
		n := util.NormalizePhone(raw)
		if n == "" {
			results[i] = domain.SendItemResult{Number: raw, Status: domain.ItemFailed, Error: errInvalidNumber}
			observability.Sends.WithLabelValues(path, "error").Inc()
			continue
		}
		wg.Add(1)
		go func(i int, n string) {
			defer wg.Done()
			res := domain.SendItemResult{Number: n, Status: domain.ItemSuccess}
			if _, err := conn.Send(ctx, n, message); err != nil {
				res.Status = domain.ItemFailed
				res.Error = err.Error()
				observability.Sends.WithLabelValues(path, "error").Inc()
			} else {
				observability.Sends.WithLabelValues(path, "ok").Inc()
			}
			results[i] = res
		}(i, n)
	}
	wg.Wait()
	return results
}

// Bulk sends to every number concurrently. Failures never stop siblings.
func Bulk(ctx context.Context, conn Sender, numbers []string, message string) domain.BulkSendResponse {
	start := time.Now()
	results := all(ctx, conn, "bulk", numbers, message)

	out := domain.BulkSendResponse{Results: results}
	for _, r := range results {
		if r.Status == domain.ItemSuccess {
			out.Sent++
		} else {
			out.Failed++
		}
	}
	out.Duration = time.Since(start)
	observability.BulkDuration.Observe(out.Duration.Seconds())
	return out
}

type Broadcaster struct {
	GroupDelay time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

func (b *Broadcaster) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return util.Sleep(ctx, d)
}

// Send processes groups strictly in order, fanning out within each group and
// waiting GroupDelay between groups. A cancelled ctx stops before the next
// group and returns what was sent so far.
func (b *Broadcaster) Send(ctx context.Context, conn Sender, groups []domain.BroadcastGroup, message string) (domain.BroadcastSendResponse, error) {
	start := time.Now()
	delay := b.GroupDelay
	if delay <= 0 {
		delay = DefaultGroupDelay
	}

	out := domain.BroadcastSendResponse{Errors: []string{}}
	for i, g := range groups {
		if i > 0 {
			if err := b.sleep(ctx, delay); err != nil {
				out.Duration = time.Since(start)
				return out, err
			}
		}

		groupStart := time.Now()
		for _, r := range all(ctx, conn, "broadcast", g.Members, message) {
			if r.Status == domain.ItemSuccess {
				out.Sent++
				continue
			}
			out.Failed++
			out.Errors = append(out.Errors, r.Number+": "+r.Error)
		}
		observability.BroadcastGroupDuration.Observe(time.Since(groupStart).Seconds())
		out.GroupsSent++
		out.TotalRecipients += len(g.Members)
	}
	out.Duration = time.Since(start)
	return out, nil
}
