package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// HostFromAddr strips the port from "host:port", bracketed or bare IPv6
// forms included. Inputs without a port are returned as-is.
func HostFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Unbracketed IPv6 "host:port": peel off the last ":port" only when the
	// remainder is still an address.
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			host := a[:last]
			if _, err := strconv.Atoi(a[last+1:]); err == nil && net.ParseIP(host) != nil && net.ParseIP(a) == nil {
				return host
			}
		}
	}

	return strings.Trim(a, "[]")
}
