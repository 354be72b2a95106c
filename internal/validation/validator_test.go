package validation

import (
	"testing"

	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func server(name, port string) domain.BackendServer {
	return domain.BackendServer{Name: name, Address: address.IPv4Port{Host: "10.0.0.1", Port: port}}
}

func validModel() *domain.DomainRouting {
	return &domain.DomainRouting{
		Domain:         "example.com",
		Aliases:        []string{"www.example.com"},
		Enabled:        true,
		RoutingMode:    domain.RoutingAdvanced,
		DefaultBackend: domain.NamedBackend("be_default"),
		Backends: []domain.BackendPool{
			domain.NewBackendPool("be_default", server("server1", "3000")),
			domain.NewBackendPool("be_api", server("s1", "4000")),
		},
		ACLRules: []domain.ACLRule{
			{Name: "api", Condition: domain.PrefixMatch, Pattern: "/api", Backend: domain.NamedBackend("be_api")},
			{Name: "php", Condition: domain.RegexMatch, Pattern: `\.php$`, Backend: domain.SystemBackend()},
		},
		SSL: domain.SSLConfig{Mode: domain.SSLTermination},
	}
}

func TestValidModel(t *testing.T) {
	assert.Empty(t, Validate(validModel()))
	assert.NoError(t, Validate(validModel()).Err())
}

func TestAdvancedWithoutRulesOrPoolsIsValid(t *testing.T) {
	m := &domain.DomainRouting{
		Domain:         "example.com",
		Enabled:        true,
		RoutingMode:    domain.RoutingAdvanced,
		DefaultBackend: domain.SystemBackend(),
		SSL:            domain.SSLConfig{Mode: domain.SSLNone},
	}
	assert.Empty(t, Validate(m))
}

func TestEmptyPoolAlwaysFails(t *testing.T) {
	m := validModel()
	m.Backends[1].Servers = nil

	errs := Validate(m)
	assert.True(t, errs.Has(lberrors.ErrCodeEmptyBackendPool))
	assert.True(t, lberrors.HasCode(errs.Err(), lberrors.ErrCodeEmptyBackendPool))
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	m := validModel()
	m.Aliases = append(m.Aliases, "example.com")
	m.Backends = append(m.Backends, domain.NewBackendPool("be_api", server("s1", "5000")))
	m.Backends[0].Servers = append(m.Backends[0].Servers, server("server1", "3001"))
	m.ACLRules = append(m.ACLRules,
		domain.ACLRule{Name: "api", Condition: domain.PrefixMatch, Pattern: "/v2", Backend: domain.NamedBackend("be_gone")},
		domain.ACLRule{Name: "blank", Condition: domain.PrefixMatch, Pattern: " ", Backend: domain.SystemBackend()},
		domain.ACLRule{Name: "rx", Condition: domain.RegexMatch, Pattern: "([", Backend: domain.SystemBackend()},
	)
	m.DefaultBackend = domain.NamedBackend("be_missing")

	codes := Validate(m).Codes()
	assert.Contains(t, codes, lberrors.ErrCodeDuplicateIdentifier)
	assert.Contains(t, codes, lberrors.ErrCodeDanglingRuleReference)
	assert.Contains(t, codes, lberrors.ErrCodeInvalidDefaultBackend)
	assert.Contains(t, codes, lberrors.ErrCodeEmptyPattern)
	assert.Contains(t, codes, lberrors.ErrCodeInvalidPattern)

	dupes := 0
	for _, c := range codes {
		if c == lberrors.ErrCodeDuplicateIdentifier {
			dupes++
		}
	}
	assert.Equal(t, 4, dupes, "alias, pool, server and rule duplicates")
}

func TestValidateRequiresCanonicalHostnames(t *testing.T) {
	for _, host := range []string{"Example.COM", "my_site.com", "a:b.example.com"} {
		m := validModel()
		m.Domain = host
		assert.True(t, Validate(m).Has(lberrors.ErrCodeInvalidField), host)
	}

	m := validModel()
	m.Aliases = []string{"*.cdn.example.com", "WWW.example.com"}
	errs := Validate(m)
	require.Len(t, errs, 1)
	assert.Equal(t, lberrors.ErrCodeInvalidField, errs[0].Code)
}

func TestValidateNamesAndAddresses(t *testing.T) {
	m := validModel()
	m.Backends[0].Name = "system"
	m.DefaultBackend = domain.SystemBackend()
	m.Backends[1].Servers[0].Address = address.IPv6Port{Host: "::1"}
	m.Backends[1].Servers = append(m.Backends[1].Servers, domain.BackendServer{Name: "bad name", Address: address.AbstractSocket{Name: "x"}})

	errs := Validate(m)
	assert.True(t, errs.Has(lberrors.ErrCodeInvalidName))
	assert.True(t, errs.Has(lberrors.ErrCodeMissingField))
}

func TestValidateEnums(t *testing.T) {
	m := validModel()
	m.RoutingMode = "fancy"
	m.Backends[0].Balance = "weighted"
	m.Backends[1].Mode = "udp"
	m.SSL.Mode = ""

	errs := Validate(m)
	require.Len(t, errs, 4)
	for _, e := range errs {
		assert.Equal(t, lberrors.ErrCodeInvalidField, e.Code)
	}
}

func TestIncompatibleModes(t *testing.T) {
	t.Run("rule to tcp pool", func(t *testing.T) {
		m := validModel()
		m.Backends[1].Mode = domain.ModeTCP
		assert.True(t, Validate(m).Has(lberrors.ErrCodeIncompatibleMode))
	})

	t.Run("tcp default without passthrough", func(t *testing.T) {
		m := validModel()
		m.ACLRules = nil
		m.Backends[0].Mode = domain.ModeTCP
		assert.True(t, Validate(m).Has(lberrors.ErrCodeIncompatibleMode))
	})

	t.Run("tcp default with passthrough", func(t *testing.T) {
		m := validModel()
		m.ACLRules = nil
		m.RoutingMode = domain.RoutingSimple
		m.Backends[0].Mode = domain.ModeTCP
		m.SSL.Mode = domain.SSLPassthrough
		assert.Empty(t, Validate(m))
	})
}

func TestNilModel(t *testing.T) {
	assert.True(t, Validate(nil).Has(lberrors.ErrCodeMissingField))
}

func TestValidatorNeverPanicsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := validModel()
		if rapid.Bool().Draw(t, "dropServers") {
			m.Backends[rapid.IntRange(0, 1).Draw(t, "pool")].Servers = nil
		}
		if rapid.Bool().Draw(t, "danglingDefault") {
			m.DefaultBackend = domain.NamedBackend(rapid.StringMatching(`be_[a-z]{1,5}`).Draw(t, "name"))
		}
		if rapid.Bool().Draw(t, "dropPools") {
			m.Backends = nil
		}

		errs := Validate(m)
		hasEmpty := false
		for _, p := range m.Backends {
			if len(p.Servers) == 0 {
				hasEmpty = true
			}
		}
		if hasEmpty != errs.Has(lberrors.ErrCodeEmptyBackendPool) {
			t.Fatalf("empty pool detection mismatch: %v", errs)
		}
		if !m.HasBackend(m.DefaultBackend) != errs.Has(lberrors.ErrCodeInvalidDefaultBackend) {
			t.Fatalf("default backend detection mismatch: %v", errs)
		}
	})
}
