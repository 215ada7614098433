package util

import (
	"context"
	"crypto/rand"
	mrand "math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes per record kind.
const (
	PrefixSender    = "snd"
	PrefixCampaign  = "cmp"
	PrefixContact   = "cct"
	PrefixLog       = "log"
	PrefixBroadcast = "bcl"
	PrefixGroup     = "bcg"
	PrefixBlock     = "blk"
)

func NewID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// NormalizePhone keeps digits and a leading '+'.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	for i, r := range p {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var placeholder = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// RenderTemplate replaces every {{key}} with vars[key]. Unknown keys render empty.
func RenderTemplate(body string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(body, func(tok string) string {
		key := strings.TrimSpace(tok[2 : len(tok)-2])
		return vars[key]
	})
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Uniform returns a duration drawn uniformly from [lo, hi].
func Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(mrand.Int64N(int64(hi-lo)+1))
}
