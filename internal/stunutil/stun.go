// Package stunutil discovers a node's public address with STUN binding
// requests.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/multierr"
)

// Probe asks each server in turn for this host's mapped address and returns
// the first answer as "ip:port". Errors from every failed server are combined.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (string, error) {
	if len(servers) == 0 {
		return "", errors.New("no STUN servers provided")
	}

	var errs error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err == nil {
			return addr, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errs
}

// NormalizeServer turns "host:port" into a stun: URI.
func NormalizeServer(server string) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.New("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	return uriStr, nil
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr, err := NormalizeServer(server)
	if err != nil {
		return "", err
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
