package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy_Allows(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://example.com", " https://App.Example.com:8443/path ", "", "bogus"}, testLogger())

	tests := map[string]struct {
		origin string
		want   bool
	}{
		"exact match":           {origin: "http://example.com", want: true},
		"upper case":            {origin: "HTTP://EXAMPLE.COM", want: true},
		"port match":            {origin: "https://app.example.com:8443", want: true},
		"wrong port":            {origin: "https://app.example.com", want: false},
		"wrong scheme":          {origin: "https://example.com", want: false},
		"missing":               {origin: "", want: false},
		"scheme only":           {origin: "http://", want: false},
		"javascript scheme":     {origin: "javascript:alert(1)", want: false},
		"subdomain not implied": {origin: "http://sub.example.com", want: false},
		"invalid entry skipped": {origin: "bogus", want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, policy.Allows(requestWithOrigin(tc.origin)))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	req := require.New(t)

	policy := NewOriginPolicy([]string{"*"}, testLogger())

	req.True(policy.Allows(requestWithOrigin("http://anything.example")))
	req.False(policy.Allows(requestWithOrigin("")))
	req.False(policy.Allows(requestWithOrigin("not-a-url")))
}

func TestOriginPolicy_Empty(t *testing.T) {
	policy := NewOriginPolicy(nil, testLogger())

	require.False(t, policy.CheckOrigin(requestWithOrigin("http://localhost:8080")))
}
