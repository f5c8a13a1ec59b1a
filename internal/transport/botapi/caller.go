// Package botapi implements the messaging network transport on top of the Telegram Bot API.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/signal-relay/internal/transport"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL    = "https://api.telegram.org"
	defaultRateLimit = 20.0
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 8 << 20
)

// Caller invokes a Bot API method and returns its "result" payload.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Config holds direct Bot API configuration.
type Config struct {
	BotToken  string
	APIURL    string
	SOCKS5URL string
	RateLimit float64
	Timeout   time.Duration
}

// HTTPCaller talks to the Bot API directly with the bot token.
type HTTPCaller struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	// apiURL is a format string taking the token and the method name.
	apiURL string
	token  string
}

// NewHTTPCaller creates a direct Bot API caller.
func NewHTTPCaller(cfg Config) (*HTTPCaller, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("botapi: bot token is required")
	}

	base := cfg.APIURL
	if base == "" {
		base = defaultAPIURL
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SOCKS5URL != "" {
		dial, err := socks5Dialer(cfg.SOCKS5URL)
		if err != nil {
			return nil, err
		}
		httpTransport.Proxy = nil
		httpTransport.DialContext = dial
	}

	slog.Info("bot api caller configured",
		"api_url", base,
		"socks5", cfg.SOCKS5URL != "",
		"rate_limit", rateLimit,
	)

	return &HTTPCaller{
		httpClient: &http.Client{Timeout: timeout, Transport: httpTransport},
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), 1),
		apiURL:     base + "/bot%s/%s",
		token:      cfg.BotToken,
	}, nil
}

func socks5Dialer(rawURL string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("botapi: parse socks5 url: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("botapi: socks5 dialer: %w", err)
	}
	dc, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("botapi: socks5 dialer missing context support")
	}
	return dc.DialContext, nil
}

// Do sends a raw Bot API request and returns the HTTP status and body unparsed.
func (c *HTTPCaller) Do(ctx context.Context, method string, params map[string]any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(c.apiURL, c.token, method), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &transport.RetryableError{Message: redact(err.Error(), c.token)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &transport.RetryableError{Code: resp.StatusCode, Message: "read body: " + err.Error()}
	}
	return resp.StatusCode, body, nil
}

// Call invokes method and unwraps the Bot API envelope.
func (c *HTTPCaller) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	status, body, err := c.Do(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(status, body)
}

// apiResponse is the Bot API response envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func decodeEnvelope(status int, body []byte) (json.RawMessage, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= 500 || status == 0 {
			return nil, &transport.RetryableError{Code: status, Message: "malformed response"}
		}
		return nil, &transport.PermanentError{Code: status, Message: "malformed response"}
	}
	if resp.OK && status < 300 {
		return resp.Result, nil
	}

	code := resp.ErrorCode
	if code == 0 {
		code = status
	}
	var retryAfter time.Duration
	if resp.Parameters != nil {
		retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
	}
	msg := resp.Description
	if code == http.StatusUnauthorized {
		msg = "invalid bot token"
	}
	return nil, transport.ClassifyStatus(code, msg, retryAfter)
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
