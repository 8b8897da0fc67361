package addrutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedResolver struct {
	ip  string
	err error
}

func (f fixedResolver) PublicIP(context.Context) (string, error) { return f.ip, f.err }

func TestHTTPResolver(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer s.Close()

	ip, err := NewHTTPResolver(s.URL, time.Second).PublicIP(context.Background())
	if err != nil {
		t.Fatalf("PublicIP: %v", err)
	}
	if ip != "203.0.113.7" {
		t.Fatalf("ip=%q", ip)
	}
}

func TestHTTPResolver_RejectsBadBodies(t *testing.T) {
	t.Parallel()

	cases := map[string]func(w http.ResponseWriter){
		"status":  func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
		"not ip":  func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"ip":"nope"}`)) },
		"garbage": func(w http.ResponseWriter) { _, _ = w.Write([]byte(`<html>`)) },
	}
	for name, h := range cases {
		s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h(w) }))
		_, err := NewHTTPResolver(s.URL, time.Second).PublicIP(context.Background())
		s.Close()
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	t.Parallel()

	c := Chain{
		fixedResolver{err: errors.New("down")},
		fixedResolver{ip: "198.51.100.1"},
		fixedResolver{ip: "198.51.100.2"},
	}
	ip, err := c.PublicIP(context.Background())
	if err != nil || ip != "198.51.100.1" {
		t.Fatalf("ip=%q err=%v", ip, err)
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()

	c := Chain{fixedResolver{err: errors.New("a")}, fixedResolver{err: errors.New("b")}}
	if _, err := c.PublicIP(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (Chain{}).PublicIP(context.Background()); err == nil {
		t.Fatalf("expected error for empty chain")
	}
}

func TestNew_Order(t *testing.T) {
	t.Parallel()

	chain, ok := New("http://echo", []string{"stun.example:3478"}, time.Second).(Chain)
	if !ok || len(chain) != 2 {
		t.Fatalf("chain=%#v", chain)
	}
	if _, ok := chain[0].(*HTTPResolver); !ok {
		t.Fatalf("first resolver=%T", chain[0])
	}
	if _, ok := chain[1].(*STUNResolver); !ok {
		t.Fatalf("second resolver=%T", chain[1])
	}
}

func TestHostFromAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"1.2.3.4:5000":         "1.2.3.4",
		"[2001:db8::1]:5000":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"1.2.3.4":              "1.2.3.4",
		"  ":                   "",
		"2001:db8:0:0:0:0:0:1": "2001:db8:0:0:0:0:0:1",
	}
	for in, want := range cases {
		if got := HostFromAddr(in); got != want {
			t.Fatalf("HostFromAddr(%q)=%q want %q", in, got, want)
		}
	}
}
