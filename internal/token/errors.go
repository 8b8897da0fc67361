package token

import "errors"

// Kind classifies an authentication failure.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidPassword
	MissingToken
	InvalidSignature
	Expired
)

func (k Kind) String() string {
	switch k {
	case InvalidPassword:
		return "invalid_password"
	case MissingToken:
		return "missing_token"
	case InvalidSignature:
		return "invalid_signature"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// AuthError is returned by Issue and Validate. Callers branch on Kind:
// a missing token means the caller never authenticated, while an invalid or
// expired token means it should authenticate again.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case InvalidPassword:
		msg = "invalid password"
	case MissingToken:
		msg = "session key is missing"
	case InvalidSignature:
		msg = "invalid session"
	case Expired:
		msg = "session expired"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so errors.Is(err, ErrExpired)
// works regardless of the wrapped cause.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrInvalidPassword  = &AuthError{Kind: InvalidPassword}
	ErrMissingToken     = &AuthError{Kind: MissingToken}
	ErrInvalidSignature = &AuthError{Kind: InvalidSignature}
	ErrExpired          = &AuthError{Kind: Expired}
)

// KindOf extracts the failure kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error) error {
	return &AuthError{Kind: kind, Err: err}
}
