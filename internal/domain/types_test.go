package domain

import (
	"strings"
	"testing"

	"github.com/mir00r/domain-router/internal/address"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendRef(t *testing.T) {
	var zero BackendRef
	assert.True(t, zero.IsSystem())
	assert.Equal(t, "system", zero.String())
	assert.Equal(t, SystemBackend(), ParseBackendRef("system"))
	assert.Equal(t, SystemBackend(), ParseBackendRef("  "))

	ref := ParseBackendRef("be_api")
	assert.False(t, ref.IsSystem())
	assert.Equal(t, "be_api", ref.Name())
	assert.Equal(t, NamedBackend("be_api"), ref)
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"be_default", true},
		{"api.v1-blue", true},
		{"system", false},
		{"", false},
		{"has space", false},
		{"slash/name", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidName(tt.name), "name %q", tt.name)
	}
}

func TestNewBackendServer(t *testing.T) {
	s, err := NewBackendServer(" app1 ", address.IPv6Port{Host: "::1", Port: "3000"}, " weight 10 ")
	require.NoError(t, err)
	assert.Equal(t, "app1", s.Name)
	assert.Equal(t, "[::1]:3000", s.ResolvedAddress())
	assert.Equal(t, "weight 10", s.ExtraOptions)

	_, err = NewBackendServer("", address.UnixSocket{Path: "/a.sock"}, "")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeMissingField))

	_, err = NewBackendServer("bad name", address.UnixSocket{Path: "/a.sock"}, "")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidName))

	_, err = NewBackendServer("app", address.IPv4Port{Host: "10.0.0.1"}, "")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeMissingField))
}

func TestCanonicalHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "Example.COM", want: "example.com"},
		{in: "example.com.", want: "example.com"},
		{in: "bücher.example", want: "xn--bcher-kva.example"},
		{in: "*.Example.com", want: "*.example.com"},
		{in: "", err: true},
		{in: "bad_host.example", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalHostname(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDomainRoutingDefaults(t *testing.T) {
	m, err := NewDomainRouting("Shop.Example.com")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", m.Domain)
	assert.True(t, m.Enabled)
	assert.Equal(t, RoutingSimple, m.RoutingMode)
	assert.True(t, m.DefaultBackend.IsSystem())
	assert.Equal(t, SSLNone, m.SSL.Mode)
}

func TestCloneIsDeep(t *testing.T) {
	srv, err := NewBackendServer("a", address.IPv4Port{Host: "10.0.0.1", Port: "80"}, "")
	require.NoError(t, err)

	m, err := NewDomainRouting("example.com")
	require.NoError(t, err)
	m.Aliases = []string{"www.example.com"}
	m.Backends = []BackendPool{NewBackendPool("be_default", srv)}
	m.ACLRules = []ACLRule{{Name: "api", Condition: PrefixMatch, Pattern: "/api", Backend: NamedBackend("be_default")}}

	c := m.Clone()
	c.Aliases[0] = "changed"
	c.Backends[0].Servers[0].Name = "changed"
	c.Backends[0].Name = "changed"
	c.ACLRules[0].Pattern = "/changed"

	assert.Equal(t, "www.example.com", m.Aliases[0])
	assert.Equal(t, "a", m.Backends[0].Servers[0].Name)
	assert.Equal(t, "be_default", m.Backends[0].Name)
	assert.Equal(t, "/api", m.ACLRules[0].Pattern)
}

func TestLookups(t *testing.T) {
	m := &DomainRouting{
		Domain:   "example.com",
		Aliases:  []string{"www.example.com"},
		Backends: []BackendPool{{Name: "be_a"}, {Name: "be_b"}},
		ACLRules: []ACLRule{
			{Name: "one", Backend: NamedBackend("be_b")},
			{Name: "two", Backend: SystemBackend()},
			{Name: "three", Backend: NamedBackend("be_b")},
		},
	}

	assert.Equal(t, 1, m.PoolIndex("be_b"))
	assert.Equal(t, -1, m.PoolIndex("be_c"))
	assert.True(t, m.HasBackend(SystemBackend()))
	assert.False(t, m.HasBackend(NamedBackend("be_c")))
	assert.Equal(t, []string{"one", "three"}, m.RulesReferencing("be_b"))
	assert.Equal(t, 2, m.RuleIndex("three"))
	assert.Equal(t, []string{"example.com", "www.example.com"}, m.Hostnames())

	p, ok := m.Pool("be_a")
	require.True(t, ok)
	p.Mode = ModeTCP
	assert.Equal(t, ModeTCP, m.Backends[0].Mode)
}

func TestParseEnums(t *testing.T) {
	b, err := ParseBalanceMethod("least_connections")
	require.NoError(t, err)
	assert.Equal(t, BalanceLeastConnections, b)

	c, err := ParseMatchCondition("regex")
	require.NoError(t, err)
	assert.Equal(t, RegexMatch, c)

	r, err := ParseRoutingMode("")
	require.NoError(t, err)
	assert.Equal(t, RoutingSimple, r)

	_, err = ParsePoolMode("udp")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidField))

	_, err = ParseSSLMode("mutual")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidField))
}
