// Package proxy implements a Bot API caller that routes through the trusted
// intermediary holding the bot credential.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout   = 20 * time.Second
	maxResponseBytes = 8 << 20
)

// TokenSource supplies the bearer token presented to the intermediary.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", errors.New("proxy: empty token")
	}
	return string(s), nil
}

// Config holds intermediary client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Caller forwards Bot API calls through the intermediary.
type Caller struct {
	httpClient *http.Client
	url        string
	tokens     TokenSource
}

// NewCaller creates an intermediary caller.
func NewCaller(cfg Config, tokens TokenSource) (*Caller, error) {
	if cfg.URL == "" {
		return nil, errors.New("proxy: intermediary url is required")
	}
	if tokens == nil {
		return nil, errors.New("proxy: token source is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	slog.Info("proxied bot api caller configured", "url", cfg.URL)

	return &Caller{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		tokens:     tokens,
	}, nil
}

// Request is the intermediary request body.
type Request struct {
	Method   string         `json:"method"`
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params,omitempty"`
}

// Call forwards method to the intermediary and unwraps both envelopes:
// {success, data, status} from the intermediary, then {ok, result} from the Bot API.
func (c *Caller) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnauthorized, err)
	}

	payload, err := json.Marshal(Request{Method: http.MethodPost, Endpoint: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transport.RetryableError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transport.RetryableError{Code: resp.StatusCode, Message: "read body: " + err.Error()}
	}

	return parseEnvelope(resp.StatusCode, body)
}

func parseEnvelope(httpStatus int, body []byte) (json.RawMessage, error) {
	if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(httpStatus)
		}
		return nil, &transport.PermanentError{Code: httpStatus, Message: "intermediary rejected caller: " + msg}
	}

	if !gjson.ValidBytes(body) {
		return nil, transport.ClassifyStatus(retryableDefault(httpStatus), "malformed intermediary response", 0)
	}

	env := gjson.ParseBytes(body)
	status := int(env.Get("status").Int())
	if status == 0 {
		status = httpStatus
	}

	if !env.Get("success").Bool() {
		desc := env.Get("data.description").String()
		if desc == "" {
			desc = env.Get("error.message").String()
		}
		if code := int(env.Get("data.error_code").Int()); code != 0 {
			status = code
		}
		retryAfter := time.Duration(env.Get("data.parameters.retry_after").Int()) * time.Second
		return nil, transport.ClassifyStatus(retryableDefault(status), desc, retryAfter)
	}

	if !env.Get("data.ok").Bool() {
		return nil, transport.ClassifyStatus(retryableDefault(status), env.Get("data.description").String(), 0)
	}

	result := env.Get("data.result")
	if !result.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(result.Raw), nil
}

// retryableDefault treats success-range or missing statuses on a failed call as transient.
func retryableDefault(status int) int {
	if status < 400 {
		return http.StatusBadGateway
	}
	return status
}
