package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIPResolverResolve(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		{
			name:       "direct peer ignores headers",
			remoteAddr: "203.0.113.7:43210",
			forwarded:  "198.51.100.5",
			realIP:     "198.51.100.6",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy uses forwarded for",
			trusted:    []string{"172.30.0.10/32"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  "198.51.100.8",
			want:       "198.51.100.8",
		},
		{
			name:       "spoofed leftmost entry is skipped",
			trusted:    []string{"172.30.0.0/24"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  "10.9.9.9, 198.51.100.8, 172.30.0.11",
			want:       "198.51.100.8",
		},
		{
			name:       "garbage chain falls back to real ip",
			trusted:    []string{"172.30.0.10"},
			remoteAddr: "172.30.0.10:12345",
			forwarded:  "not-an-ip",
			realIP:     "198.51.100.10",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted proxy without headers",
			trusted:    []string{"172.30.0.10"},
			remoteAddr: "172.30.0.10:12345",
			want:       "172.30.0.10",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "unparseable peer",
			remoteAddr: "pipe",
			want:       "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := NewClientIPResolver(tt.trusted)
			require.NoError(t, err)

			req := httptest.NewRequest("GET", "http://localhost/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			require.Equal(t, tt.want, resolver.Resolve(req))
		})
	}
}

func TestNewClientIPResolverRejectsBadProxy(t *testing.T) {
	_, err := NewClientIPResolver([]string{"10.0.0.0/33"})
	require.Error(t, err)
}
