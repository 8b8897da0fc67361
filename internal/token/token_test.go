package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	svc, err := NewService("s3cret", WithClock(mock))
	require.NoError(t, err)
	return svc, mock
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t)
	tok, err := svc.Issue("s3cret")
	require.NoError(t, err)

	data, err := svc.Validate(tok)
	require.NoError(t, err)
	require.NotEmpty(t, data.SessionID)
	require.Equal(t, mock.Now().UnixMilli(), data.IssuedAt.UnixMilli())
}

func TestIssue_UniqueSessionIDs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	a, err := svc.Issue("s3cret")
	require.NoError(t, err)
	b, err := svc.Issue("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestIssue_WrongPassword(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	for _, pw := range []string{"", "s3cre", "s3cret ", "other"} {
		tok, err := svc.Issue(pw)
		require.Empty(t, tok)
		require.ErrorIs(t, err, ErrInvalidPassword, "password %q", pw)
		require.Equal(t, InvalidPassword, KindOf(err))
	}
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t)
	tok, err := svc.Issue("s3cret")
	require.NoError(t, err)

	mock.Add(3599 * time.Second)
	_, err = svc.Validate(tok)
	require.NoError(t, err)

	mock.Add(2 * time.Second)
	_, err = svc.Validate(tok)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, Expired, KindOf(err))
}

func TestValidate_ExpiryBoundaryWithSubSecondIssue(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t)
	mock.Add(900 * time.Millisecond)
	tok, err := svc.Issue("s3cret")
	require.NoError(t, err)

	mock.Add(3600 * time.Second)
	_, err = svc.Validate(tok)
	require.NoError(t, err)

	mock.Add(time.Millisecond)
	_, err = svc.Validate(tok)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidate_Missing(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.Validate("  ")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestValidate_InvalidSignature(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	tok, err := svc.Issue("s3cret")
	require.NoError(t, err)
	body, sig, _ := strings.Cut(tok, ".")

	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"sid":"x","iat":1}`))
	cases := map[string]string{
		"no separator":   "garbage",
		"empty sig":      body + ".",
		"bad sig b64":    body + ".!!!",
		"swapped body":   forged + "." + sig,
		"truncated sig":  body + "." + sig[:len(sig)-4],
		"other secret":   mustIssue(t, "different"),
		"only separator": ".",
	}
	for name, in := range cases {
		_, err := svc.Validate(in)
		require.ErrorIs(t, err, ErrInvalidSignature, name)
		require.False(t, errors.Is(err, ErrExpired), name)
	}
}

func TestValidate_ExpiredTokenFromOtherSecretIsInvalidNotExpired(t *testing.T) {
	t.Parallel()

	svc, mock := newTestService(t)
	other, err := NewService("different", WithClock(mock))
	require.NoError(t, err)
	tok, err := other.Issue("different")
	require.NoError(t, err)

	mock.Add(2 * time.Hour)
	_, err = svc.Validate(tok)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWithMaxAge(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	svc, err := NewService("s3cret", WithClock(mock), WithMaxAge(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, svc.MaxAge())

	tok, err := svc.Issue("s3cret")
	require.NoError(t, err)
	mock.Add(11 * time.Second)
	_, err = svc.Validate(tok)
	require.ErrorIs(t, err, ErrExpired)
}

func TestNewService_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewService("")
	require.Error(t, err)
}

func TestAuthError_Message(t *testing.T) {
	t.Parallel()

	require.Equal(t, "session expired", ErrExpired.Error())
	wrapped := newError(InvalidSignature, errors.New("bad"))
	require.Equal(t, "invalid session: bad", wrapped.Error())
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func mustIssue(t *testing.T, secret string) string {
	t.Helper()
	svc, err := NewService(secret)
	require.NoError(t, err)
	tok, err := svc.Issue(secret)
	require.NoError(t, err)
	return tok
}
