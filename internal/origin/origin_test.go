package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in         string
		normalized string
		host       string
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com"},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173"},
		{"http://example.com:80", "http://example.com", "example.com"},
		{"https://example.com:80", "https://example.com:80", "example.com:80"},
		{"http://[::1]:3000", "http://[::1]:3000", "[::1]:3000"},
		{"  https://app.example  ", "https://app.example", "app.example"},
		{"null", "null", ""},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.in)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", tc.in)
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.in, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestNormalizeHeader_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com?query",
		"https://example.com?",
		"https://example.com#frag",
		"https://user@example.com",
		"https://example.com:0",
		"https://example.com:99999",
		"https://example.com:",
		"https://[::1",
		"https://example.com,https://evil.example",
		"example.com",
	} {
		if normalized, _, ok := NormalizeHeader(in); ok {
			t.Fatalf("NormalizeHeader(%q)=%q, want rejection", in, normalized)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p, err := NewPolicy(nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.SameHostOnly() {
		t.Fatalf("empty policy should be same-host")
	}

	if _, ok := p.Allow("http://localhost:3000", "localhost:3000"); !ok {
		t.Fatalf("same host rejected")
	}
	// Scheme is ignored for same-host comparisons behind TLS termination.
	if _, ok := p.Allow("https://call.example", "call.example:443"); !ok {
		t.Fatalf("default https port rejected")
	}
	if _, ok := p.Allow("http://localhost:3000", "localhost:3001"); ok {
		t.Fatalf("different port allowed")
	}
	if _, ok := p.Allow("null", "localhost"); ok {
		t.Fatalf("null origin allowed by same-host policy")
	}
	if _, ok := p.Allow("https://evil.example", "call.example"); ok {
		t.Fatalf("foreign origin allowed")
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p, err := NewPolicy([]string{"https://App.Example:443", " http://localhost:5173 "})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	normalized, ok := p.Allow("https://app.example", "signal.internal")
	if !ok || normalized != "https://app.example" {
		t.Fatalf("listed origin: normalized=%q ok=%v", normalized, ok)
	}
	if _, ok := p.Allow("http://localhost:5173", "signal.internal"); !ok {
		t.Fatalf("listed localhost rejected")
	}
	if _, ok := p.Allow("https://signal.internal", "signal.internal"); ok {
		t.Fatalf("same host must not be implied when a list is configured")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p, err := NewPolicy([]string{"*"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false")
	}
	if _, ok := p.Allow("https://anything.example", "x"); !ok {
		t.Fatalf("wildcard rejected origin")
	}
	if _, ok := p.Allow("not an origin", "x"); ok {
		t.Fatalf("wildcard accepted malformed origin")
	}
}

func TestNewPolicy_RejectsInvalidEntries(t *testing.T) {
	if _, err := NewPolicy([]string{"https://ok.example", "https://bad.example/path"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPolicy_CheckRequest(t *testing.T) {
	p, _ := NewPolicy([]string{"https://app.example"})

	r := httptest.NewRequest("GET", "http://signal.example/socket", nil)
	if !p.CheckRequest(r) {
		t.Fatalf("request without Origin rejected")
	}

	r.Header.Set("Origin", "https://app.example")
	if !p.CheckRequest(r) {
		t.Fatalf("listed origin rejected")
	}

	r.Header.Add("Origin", "https://app.example")
	if p.CheckRequest(r) {
		t.Fatalf("repeated Origin header accepted")
	}
}
