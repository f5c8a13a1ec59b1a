package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/signal-relay/internal/config"
	"github.com/bissquit/signal-relay/internal/identity/jwt"
	"github.com/bissquit/signal-relay/internal/poller"
	"github.com/bissquit/signal-relay/internal/transport"
	"github.com/bissquit/signal-relay/internal/transport/botapi"
	"github.com/bissquit/signal-relay/internal/transport/proxy"
)

// operatorToken mints a fresh token for the operator on every intermediary call.
type operatorToken struct {
	auth *jwt.Authenticator
	uid  string
}

func (t operatorToken) Token(_ context.Context) (string, error) {
	if t.uid == "" {
		return "", errors.New("operator uid is not configured")
	}
	return t.auth.MintToken(t.uid, "")
}

// newTransportFactory builds the Bot API client for a mode. Both modes speak
// the same Bot API methods; they differ only in who holds the bot token.
func newTransportFactory(cfg config.TelegramConfig, auth *jwt.Authenticator) poller.TransportFactory {
	return func(mode transport.Mode) (transport.Transport, error) {
		switch mode {
		case transport.ModeDirect:
			caller, err := newDirectCaller(cfg)
			if err != nil {
				return nil, err
			}
			return botapi.NewClient(caller), nil

		case transport.ModeProxied:
			var tokens proxy.TokenSource = operatorToken{auth: auth, uid: cfg.OperatorUID}
			if cfg.ProxyToken != "" {
				tokens = proxy.StaticToken(cfg.ProxyToken)
			}
			caller, err := proxy.NewCaller(proxy.Config{
				URL:     cfg.ProxyURL,
				Timeout: cfg.RequestTimeout,
			}, tokens)
			if err != nil {
				return nil, err
			}
			return botapi.NewClient(caller), nil
		}
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}

func newDirectCaller(cfg config.TelegramConfig) (*botapi.HTTPCaller, error) {
	return botapi.NewHTTPCaller(botapi.Config{
		BotToken:  cfg.BotToken,
		APIURL:    cfg.APIURL,
		SOCKS5URL: cfg.SOCKS5URL,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.RequestTimeout,
	})
}
