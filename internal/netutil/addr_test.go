package netutil

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM":            "example.com",
		"example.com:3001":       "example.com",
		"[::1]:3001":             "::1",
		"ws://Peer.Local:3002/x": "peer.local",
		"  sub.example.com.  ":   "sub.example.com",
		"":                       "",
	}
	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAddressAndPort(t *testing.T) {
	t.Parallel()

	if got := NormalizeAddress("WS://Localhost:3002/ws"); got != "localhost:3002" {
		t.Fatalf("got %q", got)
	}
	if got := Port("localhost:3002"); got != 3002 {
		t.Fatalf("got %d", got)
	}
	if got := Port("localhost"); got != 0 {
		t.Fatalf("got %d", got)
	}
}

func TestIsSelfAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"localhost:3001", true},
		{"127.0.0.1:3001", true},
		{"[::1]:3001", true},
		{":3001", true},
		{"chat.example:3001", true},
		{"localhost:3002", false},
		{"10.0.0.5:3001", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSelfAddress(tt.addr, "chat.example:3001", 3001); got != tt.want {
			t.Fatalf("IsSelfAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestRemoteHost(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	if got := RemoteHost(r); got != "192.0.2.7" {
		t.Fatalf("got %q", got)
	}
}
