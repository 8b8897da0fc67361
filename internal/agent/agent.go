// Package agent runs the relay heartbeat loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"relayctl/internal/addrutil"
	"relayctl/internal/api"
	"relayctl/internal/config"
	"relayctl/internal/metrics"
	"relayctl/internal/model"
)

// Agent authenticates against the coordinator and reports this relay's
// public address every interval.
type Agent struct {
	cfg         config.AgentConfig
	client      *api.Client
	resolver    addrutil.Resolver
	clock       clock.Clock
	log         *zap.Logger
	authBackoff backoff.BackOff
	onCycle     func(model.CycleResult)

	interval    time.Duration
	addrTimeout time.Duration
	token       string
}

// Option configures an Agent.
type Option func(*Agent)

// WithResolver replaces the public address resolver built from the config.
func WithResolver(r addrutil.Resolver) Option {
	return func(a *Agent) { a.resolver = r }
}

// WithClock sets the clock that drives the sleep between cycles.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithLogger sets the agent logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithClient replaces the coordinator client built from the config.
func WithClient(c *api.Client) Option {
	return func(a *Agent) { a.client = c }
}

// WithAuthBackoff sets the backoff between startup authentication attempts.
func WithAuthBackoff(b backoff.BackOff) Option {
	return func(a *Agent) { a.authBackoff = b }
}

// WithCycleHook registers fn to receive every cycle result.
func WithCycleHook(fn func(model.CycleResult)) Option {
	return func(a *Agent) { a.onCycle = fn }
}

// New returns an agent for cfg. Intervals below config.MinIntervalSec are
// raised to the minimum.
func New(cfg config.AgentConfig, opts ...Option) (*Agent, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("agent node_id is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("agent port %d out of range", cfg.Port)
	}

	a := &Agent{
		cfg:   cfg,
		clock: clock.New(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	intervalSec := cfg.IntervalSec
	if intervalSec == 0 {
		intervalSec = config.DefaultIntervalSec
	}
	if intervalSec < config.MinIntervalSec {
		a.log.Warn("heartbeat interval below minimum, raising",
			zap.Int("interval_sec", intervalSec), zap.Int("min_sec", config.MinIntervalSec))
		intervalSec = config.MinIntervalSec
	}
	a.interval = time.Duration(intervalSec) * time.Second

	a.addrTimeout = time.Duration(cfg.AddrTimeoutSec) * time.Second
	if a.addrTimeout <= 0 {
		a.addrTimeout = time.Duration(config.DefaultAddrTimeoutSec) * time.Second
	}

	if a.client == nil {
		if cfg.Coordinator == "" {
			return nil, errors.New("agent coordinator is required")
		}
		a.client = api.NewClient(cfg.Coordinator, api.WithTimeout(time.Duration(cfg.RequestTimeoutSec)*time.Second))
	}
	if a.resolver == nil {
		a.resolver = addrutil.New(cfg.IPEchoURL, cfg.STUNServers, a.addrTimeout)
	}
	if a.authBackoff == nil {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		a.authBackoff = bo
	}
	return a, nil
}

// Interval returns the effective sleep between cycles.
func (a *Agent) Interval() time.Duration { return a.interval }

// Run authenticates and then sends heartbeats until ctx is cancelled. An
// invalid password, or exhausting the startup attempts, is returned as an
// error; failures inside a cycle never end the loop.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	a.log.Info("agent started",
		zap.String("node_id", a.cfg.NodeID),
		zap.Int("port", a.cfg.Port),
		zap.Duration("interval", a.interval))

	for {
		a.record(a.RunCycle(ctx))
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := a.clock.Timer(a.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// startup authenticates with bounded retries. Transport failures are
// retried; a rejected password is not.
func (a *Agent) startup(ctx context.Context) error {
	attempts := a.cfg.AuthAttempts
	if attempts <= 0 {
		attempts = config.DefaultAuthAttempts
	}

	op := func() (struct{}, error) {
		err := a.authenticate(ctx)
		if err != nil && (api.IsInvalidPassword(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		a.log.Warn("authentication failed, retrying", zap.Error(err), zap.Duration("backoff", next))
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(a.authBackoff),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(notify))
	if err != nil {
		if api.IsInvalidPassword(err) {
			return fmt.Errorf("authenticate: invalid password: %w", err)
		}
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

func (a *Agent) authenticate(ctx context.Context) error {
	tok, err := a.client.Verify(ctx, a.cfg.Password)
	if err != nil {
		return err
	}
	a.token = tok
	a.log.Debug("authenticated", zap.String("node_id", a.cfg.NodeID))
	return nil
}

// RunCycle performs one heartbeat: resolve the public address, send it, and
// on a 403 re-authenticate once and resend once.
func (a *Agent) RunCycle(ctx context.Context) model.CycleResult {
	start := a.clock.Now()
	res := model.CycleResult{Timestamp: start.UTC(), NodeID: a.cfg.NodeID}
	finish := func(outcome string, err error) model.CycleResult {
		res.Outcome = outcome
		if err != nil {
			res.Error = err.Error()
		}
		res.Duration = a.clock.Since(start)
		return res
	}

	addrCtx, cancel := context.WithTimeout(ctx, a.addrTimeout)
	ip, err := a.resolver.PublicIP(addrCtx)
	cancel()
	if err != nil {
		return finish(model.OutcomeSkipped, fmt.Errorf("resolve public ip: %w", err))
	}
	res.IP = ip

	req := api.UpdateNodeRequest{NodeID: a.cfg.NodeID, IP: ip, Port: a.cfg.Port}
	res.Attempts = 1
	_, err = a.client.UpdateNode(ctx, a.token, req)
	if err == nil {
		return finish(model.OutcomeOK, nil)
	}
	if !api.IsAuthRejected(err) {
		return finish(model.OutcomeFailed, err)
	}

	a.log.Info("session rejected, re-authenticating", zap.String("node_id", a.cfg.NodeID), zap.Error(err))
	res.Reauthenticated = true
	if err := a.authenticate(ctx); err != nil {
		return finish(model.OutcomeFailed, fmt.Errorf("re-authenticate: %w", err))
	}

	res.Attempts = 2
	_, err = a.client.UpdateNode(ctx, a.token, req)
	switch {
	case err == nil:
		return finish(model.OutcomeOK, nil)
	case api.IsAuthRejected(err):
		return finish(model.OutcomeRejected, err)
	default:
		return finish(model.OutcomeFailed, err)
	}
}

func (a *Agent) record(res model.CycleResult) {
	fields := []zap.Field{
		zap.String("node_id", res.NodeID),
		zap.String("ip", res.IP),
		zap.String("outcome", res.Outcome),
		zap.Int("attempts", res.Attempts),
		zap.Bool("reauthenticated", res.Reauthenticated),
		zap.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case model.OutcomeOK:
		a.log.Info("heartbeat sent", fields...)
	default:
		a.log.Warn("heartbeat not delivered", append(fields, zap.String("error", res.Error))...)
	}

	if a.cfg.MetricsPath != "" {
		if err := metrics.AppendCSV(a.cfg.MetricsPath, []model.CycleResult{res}); err != nil {
			a.log.Warn("append cycle log failed", zap.String("path", a.cfg.MetricsPath), zap.Error(err))
		}
	}
	if a.onCycle != nil {
		a.onCycle(res)
	}
}
