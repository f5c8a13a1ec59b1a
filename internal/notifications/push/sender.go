// Package push delivers notifications to mobile devices through the FCM gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint  = "https://fcm.googleapis.com/fcm/send"
	defaultRateLimit = 50.0
	defaultTimeout   = 10 * time.Second
)

// Message is a single push to one device.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Config holds push sender configuration.
type Config struct {
	Endpoint  string
	ServerKey string
	RateLimit float64
	Timeout   time.Duration
}

// Sender delivers push messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// FCMSender implements Sender over the FCM HTTP API.
type FCMSender struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	endpoint   string
	serverKey  string
}

// NewFCMSender creates a new FCM sender.
func NewFCMSender(config Config) (*FCMSender, error) {
	if config.ServerKey == "" {
		return nil, errors.New("push sender: server key is required")
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	slog.Info("push sender configured", "endpoint", endpoint, "rate_limit", rateLimit)

	return &FCMSender{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), 1),
		endpoint:   endpoint,
		serverKey:  config.ServerKey,
	}, nil
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// Send delivers msg, honoring the rate limit.
func (s *FCMSender) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(fcmRequest{
		To:           msg.Token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Reason: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Reason: "read response: " + err.Error()}
	}

	return classify(resp, body)
}

func classify(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{
			Code:       resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode != http.StatusOK:
		return &PermanentError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))}
	}

	if gjson.GetBytes(body, "failure").Int() == 0 {
		return nil
	}

	reason := gjson.GetBytes(body, "results.0.error").String()
	switch reason {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return &PermanentError{Reason: reason, Err: ErrTokenNotRegistered}
	case "Unavailable", "InternalServerError", "DeviceMessageRateExceeded":
		return &RetryableError{Code: resp.StatusCode, Reason: reason}
	default:
		return &PermanentError{Reason: reason}
	}
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
