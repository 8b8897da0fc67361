// Package discovery reads the live relay list from the coordinator.
package discovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"relayctl/internal/api"
	"relayctl/internal/config"
)

// ErrNotAuthenticated is returned by fetches made before Authenticate
// succeeded.
var ErrNotAuthenticated = errors.New("not authenticated: call Authenticate first")

// Client holds a session token and refreshes it once when the coordinator
// rejects it.
type Client struct {
	api      *api.Client
	password string
	log      *zap.Logger
	token    string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithAPIClient replaces the coordinator client built from the config.
func WithAPIClient(ac *api.Client) Option {
	return func(c *Client) { c.api = ac }
}

// New returns a discovery client for cfg.
func New(cfg config.DiscoveryConfig, opts ...Option) *Client {
	c := &Client{
		password: cfg.Password,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		c.api = api.NewClient(cfg.Coordinator, api.WithTimeout(time.Duration(cfg.RequestTimeoutSec)*time.Second))
	}
	return c
}

// Authenticate exchanges the password for a session token. Failures are
// logged and returned; the previous token, if any, is kept.
func (c *Client) Authenticate(ctx context.Context) error {
	tok, err := c.api.Verify(ctx, c.password)
	if err != nil {
		if api.IsInvalidPassword(err) {
			c.log.Error("authentication rejected: invalid password", zap.Error(err))
		} else {
			c.log.Error("authentication failed", zap.Error(err))
		}
		return err
	}
	c.token = tok
	c.log.Debug("authenticated")
	return nil
}

// Authenticated reports whether a token is held.
func (c *Client) Authenticated() bool { return c.token != "" }

// FetchRegistry returns the live relays keyed by node id.
func (c *Client) FetchRegistry(ctx context.Context) (api.RelayList, error) {
	var list api.RelayList
	err := c.withSession(ctx, "fetch registry", func(tok string) error {
		var err error
		list, err = c.api.RelayList(ctx, tok)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// FetchClashFile returns the operator-supplied proxy file.
func (c *Client) FetchClashFile(ctx context.Context) (string, error) {
	var content string
	err := c.withSession(ctx, "fetch clash file", func(tok string) error {
		var err error
		content, err = c.api.ClashFile(ctx, tok)
		return err
	})
	return content, err
}

// withSession runs fn with the current token. A 403 triggers one
// re-authentication and one retry with the new token.
func (c *Client) withSession(ctx context.Context, op string, fn func(tok string) error) error {
	if c.token == "" {
		c.log.Warn("not authenticated, call Authenticate first", zap.String("op", op))
		return ErrNotAuthenticated
	}

	err := fn(c.token)
	if err == nil || !api.IsAuthRejected(err) {
		if err != nil {
			c.log.Error(op+" failed", zap.Error(err))
		}
		return err
	}

	c.log.Info("session rejected, re-authenticating", zap.String("op", op), zap.Error(err))
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	if err := fn(c.token); err != nil {
		c.log.Error(op+" failed after re-authentication", zap.Error(err))
		return err
	}
	return nil
}
