package address

import (
	"fmt"
	"testing"

	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		addr    Address
		want    string
		wantErr lberrors.ErrorCode
	}{
		{name: "ipv4", addr: IPv4Port{Host: "127.0.0.1", Port: "3000"}, want: "127.0.0.1:3000"},
		{name: "hostname", addr: IPv4Port{Host: "app.internal", Port: "8080"}, want: "app.internal:8080"},
		{name: "ipv6 unbracketed", addr: IPv6Port{Host: "::1", Port: "3000"}, want: "[::1]:3000"},
		{name: "ipv6 bracketed", addr: IPv6Port{Host: "[fe80::1]", Port: "443"}, want: "[fe80::1]:443"},
		{name: "unix socket", addr: UnixSocket{Path: "/run/app.sock"}, want: "/run/app.sock"},
		{name: "prefixed unix socket", addr: PrefixedUnixSocket{Path: "/run/app.sock"}, want: "unix@/run/app.sock"},
		{name: "prefixed unix socket already prefixed", addr: PrefixedUnixSocket{Path: "unix@/run/app.sock"}, want: "unix@/run/app.sock"},
		{name: "abstract socket", addr: AbstractSocket{Name: "app"}, want: "abns@app"},
		{name: "missing host", addr: IPv4Port{Port: "80"}, wantErr: lberrors.ErrCodeMissingField},
		{name: "missing port", addr: IPv6Port{Host: "::1"}, wantErr: lberrors.ErrCodeMissingField},
		{name: "missing socket path", addr: UnixSocket{}, wantErr: lberrors.ErrCodeMissingField},
		{name: "missing prefixed path", addr: PrefixedUnixSocket{Path: "  "}, wantErr: lberrors.ErrCodeMissingField},
		{name: "missing abstract name", addr: AbstractSocket{}, wantErr: lberrors.ErrCodeMissingField},
		{name: "nil address", addr: nil, wantErr: lberrors.ErrCodeMissingField},
		{name: "non numeric port", addr: IPv4Port{Host: "10.0.0.1", Port: "http"}, wantErr: lberrors.ErrCodeInvalidField},
		{name: "ipv6 half bracketed", addr: IPv6Port{Host: "[::1", Port: "3000"}, want: "[::1]:3000"},
		{name: "ipv6 trailing bracket", addr: IPv6Port{Host: "fe80::1]", Port: "443"}, want: "[fe80::1]:443"},
		{name: "ipv6 host is not a literal", addr: IPv6Port{Host: "app.internal", Port: "80"}, wantErr: lberrors.ErrCodeInvalidField},
		{name: "ipv6 host is ipv4", addr: IPv6Port{Host: "10.0.0.1", Port: "80"}, wantErr: lberrors.ErrCodeInvalidField},
		{name: "port out of range", addr: IPv4Port{Host: "10.0.0.1", Port: "70000"}, wantErr: lberrors.ErrCodeInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.addr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, lberrors.HasCode(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	a, err := New(TypeIPv6Port, "::1", "3000", "ignored")
	require.NoError(t, err)
	assert.Equal(t, IPv6Port{Host: "::1", Port: "3000"}, a)

	a, err = New(TypeAbstractSocket, "ignored", "1", "haproxy")
	require.NoError(t, err)
	assert.Equal(t, AbstractSocket{Name: "haproxy"}, a)

	_, err = New(Type("carrier-pigeon"), "", "", "")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidField))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{"127.0.0.1:3000", IPv4Port{Host: "127.0.0.1", Port: "3000"}},
		{"[::1]:3000", IPv6Port{Host: "::1", Port: "3000"}},
		{"::1:3000", IPv6Port{Host: "::1", Port: "3000"}},
		{"/var/run/php.sock", UnixSocket{Path: "/var/run/php.sock"}},
		{"unix@/var/run/php.sock", PrefixedUnixSocket{Path: "/var/run/php.sock"}},
		{"abns@tls", AbstractSocket{Name: "tls"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeMissingField))
	_, err = Parse("localhost")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeMissingField))
	_, err = Parse("[::1]")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidField))
}

func TestParseType(t *testing.T) {
	got, err := ParseType(" IPv6 ")
	require.NoError(t, err)
	assert.Equal(t, TypeIPv6Port, got)

	_, err = ParseType("tcp")
	assert.Error(t, err)
}

func TestFieldsRoundTrip(t *testing.T) {
	for _, a := range []Address{
		IPv4Port{Host: "10.0.0.1", Port: "80"},
		IPv6Port{Host: "[::1]", Port: "80"},
		UnixSocket{Path: "/a.sock"},
		PrefixedUnixSocket{Path: "/b.sock"},
		AbstractSocket{Name: "c"},
	} {
		host, port, path := Fields(a)
		rebuilt, err := New(a.Type(), host, port, path)
		require.NoError(t, err)
		assert.Equal(t, String(a), String(rebuilt))
	}
}

func hostGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9-]{0,10}(\.[a-z][a-z0-9]{0,5}){0,2}`)
}

func portGen() *rapid.Generator[int] {
	return rapid.IntRange(1, 65535)
}

func TestResolveCanonicalFormsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := portGen().Draw(t, "port")
		host := hostGen().Draw(t, "host")
		path := "/" + rapid.StringMatching(`[a-z0-9_/]{1,20}`).Draw(t, "path")

		got, err := Resolve(IPv4Port{Host: host, Port: fmt.Sprint(port)})
		if err != nil || got != fmt.Sprintf("%s:%d", host, port) {
			t.Fatalf("ipv4: got %q, %v", got, err)
		}

		v6 := rapid.StringMatching(`[0-9a-f]{1,4}(:[0-9a-f]{1,4}){0,3}::[0-9a-f]{0,4}`).Draw(t, "v6")
		got, err = Resolve(IPv6Port{Host: v6, Port: fmt.Sprint(port)})
		if err != nil || got != fmt.Sprintf("[%s]:%d", v6, port) {
			t.Fatalf("ipv6: got %q, %v", got, err)
		}

		if got, err = Resolve(UnixSocket{Path: path}); err != nil || got != path {
			t.Fatalf("unix: got %q, %v", got, err)
		}
		if got, err = Resolve(PrefixedUnixSocket{Path: path}); err != nil || got != "unix@"+path {
			t.Fatalf("unix_prefixed: got %q, %v", got, err)
		}
		if got, err = Resolve(AbstractSocket{Name: host}); err != nil || got != "abns@"+host {
			t.Fatalf("abstract: got %q, %v", got, err)
		}
	})
}

func TestResolveMissingFieldProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		host := rapid.SampledFrom([]string{"", "   ", "10.0.0.1"}).Draw(t, "host")
		port := rapid.SampledFrom([]string{"", " ", "8080"}).Draw(t, "port")
		if host == "10.0.0.1" && port == "8080" {
			t.Skip("complete input")
		}
		_, err := Resolve(IPv4Port{Host: host, Port: port})
		if !lberrors.HasCode(err, lberrors.ErrCodeMissingField) {
			t.Fatalf("expected MISSING_FIELD, got %v", err)
		}
	})
}

func TestParseResolveIsStableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.SampledFrom([]Address{
			IPv4Port{Host: hostGen().Draw(t, "h"), Port: fmt.Sprint(portGen().Draw(t, "p"))},
			IPv6Port{Host: "fd00::" + fmt.Sprint(portGen().Draw(t, "suffix")%9), Port: fmt.Sprint(portGen().Draw(t, "p6"))},
			UnixSocket{Path: "/run/" + hostGen().Draw(t, "u")},
			PrefixedUnixSocket{Path: "/run/" + hostGen().Draw(t, "pu")},
			AbstractSocket{Name: hostGen().Draw(t, "ab")},
		}).Draw(t, "addr")

		first, err := Resolve(a)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		parsed, err := Parse(first)
		if err != nil {
			t.Fatalf("parse %q: %v", first, err)
		}
		second, err := Resolve(parsed)
		if err != nil || second != first {
			t.Fatalf("unstable: %q -> %q (%v)", first, second, err)
		}
	})
}
