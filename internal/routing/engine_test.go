package routing

import (
	"strconv"
	"testing"

	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, pools ...string) *domain.DomainRouting {
	t.Helper()
	m, err := domain.NewDomainRouting("example.com")
	require.NoError(t, err)
	for i, name := range pools {
		srv, err := domain.NewBackendServer("s1", address.IPv4Port{Host: "10.0.0.1", Port: strconv.Itoa(3000 + i)}, "")
		require.NoError(t, err)
		m.Backends = append(m.Backends, domain.NewBackendPool(name, srv))
	}
	return m
}

func TestAddRule(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_api")

	out, err := engine.AddRule(m, domain.ACLRule{Pattern: "/api/v1", Backend: domain.NamedBackend("be_api")})
	require.NoError(t, err)
	require.Len(t, out.ACLRules, 1)
	assert.Equal(t, "api_v1", out.ACLRules[0].Name)
	assert.Equal(t, domain.PrefixMatch, out.ACLRules[0].Condition)
	assert.Empty(t, m.ACLRules, "input model must not change")

	out, err = engine.AddRule(out, domain.ACLRule{Pattern: "/api/v1", Condition: domain.ExactMatch})
	require.NoError(t, err)
	assert.Equal(t, "api_v1_2", out.ACLRules[1].Name)
	assert.True(t, out.ACLRules[1].Backend.IsSystem())

	out, err = engine.AddRule(out, domain.ACLRule{Pattern: "/", Backend: domain.SystemBackend()})
	require.NoError(t, err)
	assert.Equal(t, "rule", out.ACLRules[2].Name)
}

func TestAddRuleErrors(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_api")
	m.ACLRules = []domain.ACLRule{{Name: "api", Condition: domain.PrefixMatch, Pattern: "/api"}}

	tests := []struct {
		name string
		rule domain.ACLRule
		code lberrors.ErrorCode
	}{
		{"blank pattern", domain.ACLRule{Pattern: "   "}, lberrors.ErrCodeEmptyPattern},
		{"unknown backend", domain.ACLRule{Pattern: "/x", Backend: domain.NamedBackend("be_missing")}, lberrors.ErrCodeUnknownBackend},
		{"bad regex", domain.ACLRule{Pattern: "([", Condition: domain.RegexMatch}, lberrors.ErrCodeInvalidPattern},
		{"duplicate name", domain.ACLRule{Name: "api", Pattern: "/other"}, lberrors.ErrCodeDuplicateName},
		{"invalid name", domain.ACLRule{Name: "no spaces", Pattern: "/other"}, lberrors.ErrCodeInvalidName},
		{"bad condition", domain.ACLRule{Pattern: "/x", Condition: "path_dir"}, lberrors.ErrCodeInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := engine.AddRule(m, tt.rule)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, lberrors.HasCode(err, tt.code), "got %v", err)
			assert.Len(t, m.ACLRules, 1)
		})
	}
}

func TestRemoveRuleDoesNotCascade(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_api")
	m, err := engine.AddRule(m, domain.ACLRule{Pattern: "/api", Backend: domain.NamedBackend("be_api")})
	require.NoError(t, err)

	out, err := engine.RemoveRule(m, 0)
	require.NoError(t, err)
	assert.Empty(t, out.ACLRules)
	assert.Len(t, out.Backends, 1)

	_, err = engine.RemoveRule(out, 0)
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeRuleNotFound))
}

func TestMoveRule(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t)
	m.ACLRules = []domain.ACLRule{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}

	names := func(m *domain.DomainRouting) []string {
		var out []string
		for _, r := range m.ACLRules {
			out = append(out, r.Name)
		}
		return out
	}

	out, err := engine.MoveRule(m, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "b", "c"}, names(out))

	out, err = engine.MoveRule(m, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d"}, names(out))
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(m))

	_, err = engine.MoveRule(m, 0, 4)
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeRuleNotFound))
}

func TestSetDefaultBackend(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_web")

	out, err := engine.SetDefaultBackend(m, domain.NamedBackend("be_web"))
	require.NoError(t, err)
	assert.Equal(t, "be_web", out.DefaultBackend.Name())

	_, err = engine.SetDefaultBackend(m, domain.NamedBackend("be_nope"))
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeUnknownBackend))
}

func TestSetAliases(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t)

	out, err := engine.SetAliases(m, []string{"WWW.example.com", "shop.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"www.example.com", "shop.example.com"}, out.Aliases)

	_, err = engine.SetAliases(m, []string{"example.com"})
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeDuplicateName))
}

func TestRoute(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_default", "be_api", "be_static", "be_php")
	m.DefaultBackend = domain.NamedBackend("be_default")
	m.ACLRules = []domain.ACLRule{
		{Name: "health", Condition: domain.ExactMatch, Pattern: "/healthz", Backend: domain.SystemBackend()},
		{Name: "api", Condition: domain.PrefixMatch, Pattern: "/api", Backend: domain.NamedBackend("be_api")},
		{Name: "css", Condition: domain.SuffixMatch, Pattern: ".css", Backend: domain.NamedBackend("be_static")},
		{Name: "php", Condition: domain.RegexMatch, Pattern: `\.php$`, Backend: domain.NamedBackend("be_php")},
	}

	m.RoutingMode = domain.RoutingSimple
	assert.Equal(t, "be_default", engine.Route(m, "/api/users").BackendName)

	m.RoutingMode = domain.RoutingAdvanced
	tests := []struct {
		path    string
		backend string
		rule    string
	}{
		{"/healthz", "system", "health"},
		{"/healthz/deep", "be_default", ""},
		{"/api/users", "be_api", "api"},
		{"/api/site.css", "be_api", "api"},
		{"/assets/site.css", "be_static", "css"},
		{"/index.php", "be_php", "php"},
		{"/", "be_default", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := engine.Route(m, tt.path)
			assert.Equal(t, tt.backend, got.BackendName)
			assert.Equal(t, tt.rule, got.MatchedRule)
			assert.Equal(t, tt.rule == "", got.Fallback)
		})
	}

	stats := engine.GetStats()
	assert.Equal(t, int64(len(tests)+1), stats.TotalLookups)
	assert.Equal(t, stats.TotalLookups, stats.MatchedLookups+stats.UnmatchedLookups)
}

func TestAdvancedWithoutRulesFallsThrough(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t)
	m.RoutingMode = domain.RoutingAdvanced

	got := engine.Route(m, "/anything")
	assert.True(t, got.Backend.IsSystem())
	assert.True(t, got.Fallback)
}

func TestRegexCacheIsBounded(t *testing.T) {
	engine := NewRouteEngine(logger.NewNop())
	m := newModel(t, "be_default", "be_php")
	m.DefaultBackend = domain.NamedBackend("be_default")
	m.RoutingMode = domain.RoutingAdvanced

	for i := 0; i < 2*regexCacheSize; i++ {
		m.ACLRules = []domain.ACLRule{
			{Name: "rx", Condition: domain.RegexMatch, Pattern: `^/v` + strconv.Itoa(i) + `/`, Backend: domain.NamedBackend("be_php")},
		}
		assert.Equal(t, "be_php", engine.Route(m, "/v"+strconv.Itoa(i)+"/x").BackendName)
	}
	assert.Equal(t, regexCacheSize, engine.regexCache.Len())
}
