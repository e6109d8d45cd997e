package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrBlocked is returned when the gateway reports that the recipient cannot be reached.
var ErrBlocked = errors.New("gateway: recipient unreachable")

// Message is a text pushed to a chat outside of any request/response exchange.
type Message struct {
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// TokenSource supplies the bearer token presented on each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// invalidator is implemented by sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

// Client calls the chat delivery gateway.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set every call succeeds without network I/O.
// A nil tokens sends requests without credentials.
func New(baseURL string, tokens TokenSource, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send pushes a message to one chat. A 401 makes the client drop its token
// and try once more with a fresh one.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.Skip {
		return nil
	}
	if msg.ChatID == 0 || msg.Text == "" {
		return fmt.Errorf("gateway: chat id and text required")
	}

	body, _ := json.Marshal(msg)
	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.Tokens.(invalidator); ok {
			resp.Body.Close()
			inv.Invalidate()
			if resp, err = c.post(ctx, body); err != nil {
				return err
			}
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: chat %d (%s)", ErrBlocked, msg.ChatID, resp.Status)
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("gateway credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	return resp, nil
}

// Health checks if the gateway is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway unhealthy: %s", resp.Status)
	}

	return nil
}
