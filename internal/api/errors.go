package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnreachable wraps transport failures (DNS, refused, reset).
	ErrUnreachable = errors.New("coordinator unreachable")
	// ErrTimeout wraps requests that ran out of time.
	ErrTimeout = errors.New("request timed out")
	// ErrBadResponse wraps 2xx responses whose body could not be decoded.
	ErrBadResponse = errors.New("malformed coordinator response")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request failed: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsAuthRejected reports a 403 from the coordinator's session check: the
// token is missing, forged or expired and a fresh one is needed.
func IsAuthRejected(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

// IsInvalidPassword reports a 400 from /verification.
func IsInvalidPassword(err error) bool {
	return StatusCode(err) == http.StatusBadRequest
}

func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// classifyDecode keeps transport failures that surface while reading the
// body apart from bodies that are not the expected JSON.
func classifyDecode(path string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return classifyTransport(err)
	}
	return fmt.Errorf("%w: %s: %w", ErrBadResponse, path, err)
}
