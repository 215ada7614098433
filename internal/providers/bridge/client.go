// Package bridge talks to the chat-protocol bridge gateway that holds the
// authenticated protocol sessions. One Session per sender id.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

type Gateway struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Breaker *gobreaker.CircuitBreaker

	// PollInterval is how often Connect polls session state.
	PollInterval time.Duration
}

func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		// a rejected message is the remote's answer, not a gateway outage
		IsSuccessful: func(err error) bool {
			var he *HTTPError
			if errors.As(err, &he) {
				return he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
	})
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bridge: http %d", e.StatusCode)
}

type sessionState struct {
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

type presenceRequest struct {
	To    string `json:"to"`
	State string `json:"state"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (g *Gateway) endpoint(senderID string, parts ...string) string {
	base := strings.TrimRight(g.BaseURL, "/")
	p := base + "/sessions/" + url.PathEscape(senderID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (g *Gateway) do(ctx context.Context, method, endpoint string, in, out any) error {
	call := func() (any, error) {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.Token != "" {
			req.Header.Set("Authorization", "Bearer "+g.Token)
		}

		resp, err := g.client().Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var eb errorBody
			_ = json.Unmarshal(b, &eb)
			msg := eb.Message
			if msg == "" {
				msg = eb.Error
			}
			return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
		}
		if out != nil && len(b) > 0 {
			if err := json.Unmarshal(b, out); err != nil {
				return nil, fmt.Errorf("bridge: decode response: %w", err)
			}
		}
		return nil, nil
	}

	if g.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := g.Breaker.Execute(call)
	return err
}

func (g *Gateway) client() *http.Client {
	if g.HTTP != nil {
		return g.HTTP
	}
	return http.DefaultClient
}

func (g *Gateway) pollInterval() time.Duration {
	if g.PollInterval > 0 {
		return g.PollInterval
	}
	return 2 * time.Second
}
