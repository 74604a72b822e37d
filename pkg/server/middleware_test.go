package server

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP_PrefersForwardedForHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:54321"

	if got := clientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected the first forwarded address, got %q", got)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:8080"

	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("expected the host portion of RemoteAddr, got %q", got)
	}
}

func TestSplitHostPort_HandlesMissingPort(t *testing.T) {
	host, port, err := splitHostPort("198.51.100.7")
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}
	if host != "198.51.100.7" || port != "" {
		t.Fatalf("expected host with empty port, got host=%q port=%q", host, port)
	}
}

func TestSplitHostPort_SplitsHostAndPort(t *testing.T) {
	host, port, err := splitHostPort("198.51.100.7:9090")
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}
	if host != "198.51.100.7" || port != "9090" {
		t.Fatalf("expected host=198.51.100.7 port=9090, got host=%q port=%q", host, port)
	}
}
