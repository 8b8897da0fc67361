package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every coordinator request.
const DefaultTimeout = 10 * time.Second

// Client is a thin HTTP client for the coordinator API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a client for the given base URL (e.g. http://host:port
// or host:port).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: NormalizeBaseURL(baseURL),
		http: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify exchanges the password for a session token.
func (c *Client) Verify(ctx context.Context, password string) (string, error) {
	var resp VerificationResponse
	if err := c.postJSON(ctx, "/verification", "", VerificationRequest{Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.SessionKey, nil
}

// RelayList fetches the live registry snapshot.
func (c *Client) RelayList(ctx context.Context, token string) (RelayList, error) {
	var resp RelayListResponse
	if err := c.getJSON(ctx, "/relay_list", token, &resp); err != nil {
		return nil, err
	}
	if resp.RelayList == nil {
		resp.RelayList = RelayList{}
	}
	return resp.RelayList, nil
}

// UpdateNode sends one heartbeat.
func (c *Client) UpdateNode(ctx context.Context, token string, req UpdateNodeRequest) (MessageResponse, error) {
	var resp MessageResponse
	if err := c.postJSON(ctx, "/update_node", token, req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// ClashFile fetches the operator-supplied proxy file.
func (c *Client) ClashFile(ctx context.Context, token string) (string, error) {
	var resp ClashFileResponse
	if err := c.getJSON(ctx, "/clash_file", token, &resp); err != nil {
		return "", err
	}
	return resp.ClashFile, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, out)
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, token, out)
}

func (c *Client) do(req *http.Request, token string, out any) error {
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	}

	res, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{
			Code:   res.StatusCode,
			Status: res.Status,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	if err := decoder.Decode(out); err != nil {
		return classifyDecode(req.URL.Path, err)
	}
	return nil
}

// NormalizeBaseURL adds an http:// scheme when addr has none and drops a
// trailing slash.
func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
