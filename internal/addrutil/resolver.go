// Package addrutil resolves the externally visible address of a relay node.
package addrutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"

	"relayctl/internal/api"
	"relayctl/internal/stunutil"
)

// Resolver returns this host's public IP.
type Resolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// HTTPResolver queries an echo service that answers {"ip": "..."}.
type HTTPResolver struct {
	URL    string
	Client *http.Client
}

// NewHTTPResolver returns a resolver for url with a bounded request timeout.
func NewHTTPResolver(url string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (r *HTTPResolver) PublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip echo %s: %w", r.URL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip echo %s: %s", r.URL, res.Status)
	}
	var body api.PublicIPResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("ip echo %s: decode: %w", r.URL, err)
	}
	return validIP(body.IP)
}

// STUNResolver asks STUN servers for the mapped address and keeps the host.
type STUNResolver struct {
	Servers []string
	Timeout time.Duration
}

func (r *STUNResolver) PublicIP(ctx context.Context) (string, error) {
	addr, err := stunutil.Probe(ctx, r.Servers, r.Timeout)
	if err != nil {
		return "", err
	}
	return validIP(HostFromAddr(addr))
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

func (c Chain) PublicIP(ctx context.Context) (string, error) {
	if len(c) == 0 {
		return "", errors.New("no address resolvers configured")
	}
	var errs error
	for _, r := range c {
		ip, err := r.PublicIP(ctx)
		if err == nil {
			return ip, nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", errs
}

// New builds the resolver chain for an agent: the HTTP echo service first,
// then STUN servers.
func New(echoURL string, stunServers []string, timeout time.Duration) Resolver {
	var chain Chain
	if echoURL != "" {
		chain = append(chain, NewHTTPResolver(echoURL, timeout))
	}
	if len(stunServers) > 0 {
		chain = append(chain, &STUNResolver{Servers: stunServers, Timeout: timeout})
	}
	return chain
}

func validIP(value string) (string, error) {
	value = strings.TrimSpace(value)
	ip := net.ParseIP(value)
	if ip == nil {
		return "", fmt.Errorf("invalid public ip %q", value)
	}
	return ip.String(), nil
}
