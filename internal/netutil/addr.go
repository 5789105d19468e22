// Package netutil provides shared host and peer-address normalization
// helpers.
package netutil

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := NormalizeAddress(raw)
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// NormalizeAddress reduces a peer address such as "ws://Host:3002/ws" to
// its lower-cased "host:port" form.
func NormalizeAddress(raw string) string {
	addr := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
		addr = strings.TrimPrefix(addr, scheme)
	}
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSuffix(addr, ".")
}

// Port returns the numeric port of a normalized address, or 0.
func Port(addr string) int {
	_, p, err := net.SplitHostPort(NormalizeAddress(addr))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

// IsLoopbackHost reports whether host names this machine.
func IsLoopbackHost(host string) bool {
	switch host {
	case "", "localhost", "0.0.0.0", "::":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsSelfAddress reports whether addr points back at an instance that
// advertises advertised and listens on port.
func IsSelfAddress(addr, advertised string, port int) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	if addr == NormalizeAddress(advertised) {
		return true
	}
	return port > 0 && Port(addr) == port && IsLoopbackHost(NormalizeHost(addr))
}

// RemoteHost extracts the client host from a request, ignoring proxies.
func RemoteHost(r *http.Request) string {
	return NormalizeHost(r.RemoteAddr)
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
