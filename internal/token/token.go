// Package token issues and validates stateless session tokens.
//
// A token is base64url(payload) "." base64url(mac) where payload is a small
// JSON document carrying a random session id and the issue time. The
// coordinator keeps no session table: a token is valid when its MAC checks
// out and it is younger than the configured max age.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultMaxAge is how long an issued token stays valid.
	DefaultMaxAge = 3600 * time.Second

	keySalt = "session-key-salt"
	keyInfo = "relayctl session token v1"
)

// Signer computes and checks MACs over token payloads.
type Signer interface {
	Sign(msg []byte) []byte
	Verify(msg, sig []byte) bool
}

// HMACSigner signs with HMAC-SHA256 under a key derived from a secret.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner derives a 32-byte signing key from secret with HKDF-SHA256.
func NewHMACSigner(secret string) *HMACSigner {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		panic("hkdf read failed: " + err.Error())
	}
	return &HMACSigner{key: key}
}

func (s *HMACSigner) Sign(msg []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func (s *HMACSigner) Verify(msg, sig []byte) bool {
	return hmac.Equal(s.Sign(msg), sig)
}

// SessionData is the decoded content of a valid token.
type SessionData struct {
	SessionID string
	IssuedAt  time.Time
}

type payload struct {
	SessionID string `json:"sid"`
	IssuedAt  int64  `json:"iat"` // unix milliseconds
}

// Service issues and validates tokens. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	password string
	signer   Signer
	clock    clock.Clock
	maxAge   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for issue and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSigner replaces the default HMAC signer.
func WithSigner(signer Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// NewService returns a Service that accepts secret as the password and signs
// with a key derived from it.
func NewService(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	s := &Service{
		password: secret,
		clock:    clock.New(),
		maxAge:   DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signer == nil {
		s.signer = NewHMACSigner(secret)
	}
	return s, nil
}

// MaxAge returns the validity window applied by Validate.
func (s *Service) MaxAge() time.Duration { return s.maxAge }

// Issue returns a fresh token when password matches the configured secret.
func (s *Service) Issue(password string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return "", ErrInvalidPassword
	}
	raw, err := json.Marshal(payload{
		SessionID: uuid.NewString(),
		IssuedAt:  s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	sig := s.signer.Sign([]byte(body))
	return body + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Validate checks the token's MAC and age. The age is measured against the
// clock at validation time.
func (s *Service) Validate(tok string) (SessionData, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return SessionData{}, ErrMissingToken
	}

	body, sigB64, ok := strings.Cut(tok, ".")
	if !ok || body == "" || sigB64 == "" {
		return SessionData{}, newError(InvalidSignature, errors.New("malformed token"))
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return SessionData{}, newError(InvalidSignature, fmt.Errorf("signature encoding: %w", err))
	}
	if !s.signer.Verify([]byte(body), sig) {
		return SessionData{}, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return SessionData{}, newError(InvalidSignature, fmt.Errorf("payload encoding: %w", err))
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return SessionData{}, newError(InvalidSignature, fmt.Errorf("payload json: %w", err))
	}
	if p.SessionID == "" {
		return SessionData{}, newError(InvalidSignature, errors.New("payload missing session id"))
	}

	issued := time.UnixMilli(p.IssuedAt)
	if age := s.clock.Now().Sub(issued); age > s.maxAge {
		return SessionData{}, newError(Expired, fmt.Errorf("age %s exceeds %s", age.Truncate(time.Second), s.maxAge))
	}
	return SessionData{SessionID: p.SessionID, IssuedAt: issued}, nil
}
