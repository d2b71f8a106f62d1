package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.168.1.7/32", got[1].String())
	assert.Equal(t, "::1/128", got[2].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestClientIP_Resolve(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted bool
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "203.0.113.5:4000", want: "203.0.113.5"},
		{name: "headers ignored without trust", remote: "203.0.113.5:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4"}, want: "203.0.113.5"},
		{name: "headers ignored from untrusted peer", trusted: true, remote: "203.0.113.5:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4"}, want: "203.0.113.5"},
		{name: "first forwarded hop from trusted peer", trusted: true, remote: "10.1.2.3:80", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.1.2.3"}, want: "1.2.3.4"},
		{name: "real ip fallback", trusted: true, remote: "10.1.2.3:80", headers: map[string]string{"X-Real-IP": "5.6.7.8"}, want: "5.6.7.8"},
		{name: "malformed forwarded header", trusted: true, remote: "10.1.2.3:80", headers: map[string]string{"X-Forwarded-For": "garbage"}, want: "10.1.2.3"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "unparsable remote", remote: "nowhere", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClientIP(nil)
			if tt.trusted {
				c = NewClientIP(trusted)
			}
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, c.Resolve(r))
		})
	}
}
