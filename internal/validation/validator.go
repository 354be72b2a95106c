// Package validation checks a routing model as a whole and reports every
// violation it finds.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
)

const component = "validator"

// Validate runs every check against m. The result is empty when m can be
// persisted and compiled.
func Validate(m *domain.DomainRouting) lberrors.ValidationErrors {
	if m == nil {
		return lberrors.ValidationErrors{lberrors.NewMissingFieldError(component, "model")}
	}

	v := &collector{}
	v.checkHostnames(m)
	v.checkEnums(m)
	v.checkPools(m)
	v.checkRules(m)
	v.checkDefault(m)
	return v.errs
}

type collector struct {
	errs lberrors.ValidationErrors
}

func (v *collector) add(code lberrors.ErrorCode, format string, args ...interface{}) *lberrors.RoutingError {
	err := lberrors.NewError(code, component, fmt.Sprintf(format, args...))
	v.errs = append(v.errs, err)
	return err
}

func (v *collector) addErr(err error) {
	if rErr, ok := err.(*lberrors.RoutingError); ok {
		v.errs = append(v.errs, rErr)
		return
	}
	v.errs = append(v.errs, lberrors.WrapError(err, lberrors.ErrCodeInvalidField, component, err.Error()))
}

func (v *collector) checkHostnames(m *domain.DomainRouting) {
	if strings.TrimSpace(m.Domain) == "" {
		v.errs = append(v.errs, lberrors.NewMissingFieldError(component, "domain"))
	} else {
		v.checkCanonical("domain", m.Domain)
	}
	seen := map[string]bool{m.Domain: true}
	for _, alias := range m.Aliases {
		if strings.TrimSpace(alias) == "" {
			v.errs = append(v.errs, lberrors.NewMissingFieldError(component, "alias"))
			continue
		}
		v.checkCanonical("alias", alias)
		if seen[alias] {
			v.add(lberrors.ErrCodeDuplicateIdentifier, "hostname %q is listed more than once", alias).
				WithMetadata("alias", alias)
		}
		seen[alias] = true
	}
}

// checkCanonical requires host in its canonical form. The compiler builds
// section and ACL names from it.
func (v *collector) checkCanonical(field, host string) {
	canonical, err := domain.CanonicalHostname(host)
	if err != nil || canonical != host {
		v.add(lberrors.ErrCodeInvalidField, "%s %q is not a canonical hostname", field, host).
			WithMetadata("field", field)
	}
}

func (v *collector) checkEnums(m *domain.DomainRouting) {
	if m.RoutingMode != domain.RoutingSimple && m.RoutingMode != domain.RoutingAdvanced {
		v.errs = append(v.errs, lberrors.NewInvalidFieldError(component, "routingMode", string(m.RoutingMode)))
	}
	if _, err := domain.ParseSSLMode(string(m.SSL.Mode)); err != nil || m.SSL.Mode == "" {
		v.errs = append(v.errs, lberrors.NewInvalidFieldError(component, "ssl.mode", string(m.SSL.Mode)))
	}
}

func (v *collector) checkPools(m *domain.DomainRouting) {
	seen := make(map[string]bool, len(m.Backends))
	for _, pool := range m.Backends {
		if !domain.ValidName(pool.Name) {
			v.add(lberrors.ErrCodeInvalidName, "pool name %q is not a valid identifier", pool.Name).
				WithMetadata("pool", pool.Name)
		}
		if seen[pool.Name] {
			v.add(lberrors.ErrCodeDuplicateIdentifier, "pool %q is defined more than once", pool.Name).
				WithMetadata("pool", pool.Name)
		}
		seen[pool.Name] = true

		if pool.Mode != domain.ModeHTTP && pool.Mode != domain.ModeTCP {
			v.errs = append(v.errs, lberrors.NewInvalidFieldError(component, "mode", string(pool.Mode)).WithMetadata("pool", pool.Name))
		}
		if b, err := domain.ParseBalanceMethod(string(pool.Balance)); err != nil || b != pool.Balance {
			v.errs = append(v.errs, lberrors.NewInvalidFieldError(component, "balance", string(pool.Balance)).WithMetadata("pool", pool.Name))
		}

		if len(pool.Servers) == 0 {
			v.add(lberrors.ErrCodeEmptyBackendPool, "pool %q has no servers", pool.Name).
				WithMetadata("pool", pool.Name)
		}
		v.checkServers(pool)
	}
}

func (v *collector) checkServers(pool domain.BackendPool) {
	seen := make(map[string]bool, len(pool.Servers))
	for _, s := range pool.Servers {
		if !domain.ValidName(s.Name) {
			v.add(lberrors.ErrCodeInvalidName, "server name %q in pool %q is not a valid identifier", s.Name, pool.Name).
				WithMetadata("pool", pool.Name).WithMetadata("server", s.Name)
		}
		if seen[s.Name] {
			v.add(lberrors.ErrCodeDuplicateIdentifier, "server %q is defined more than once in pool %q", s.Name, pool.Name).
				WithMetadata("pool", pool.Name).WithMetadata("server", s.Name)
		}
		seen[s.Name] = true

		if _, err := address.Resolve(s.Address); err != nil {
			v.addErr(err)
			if rErr, ok := err.(*lberrors.RoutingError); ok {
				rErr.WithMetadata("pool", pool.Name).WithMetadata("server", s.Name)
			}
		}
	}
}

func (v *collector) checkRules(m *domain.DomainRouting) {
	seen := make(map[string]bool, len(m.ACLRules))
	for i, rule := range m.ACLRules {
		if !domain.ValidName(rule.Name) {
			v.add(lberrors.ErrCodeInvalidName, "rule name %q is not a valid identifier", rule.Name).
				WithMetadata("index", i)
		}
		if seen[rule.Name] {
			v.add(lberrors.ErrCodeDuplicateIdentifier, "rule %q is defined more than once", rule.Name).
				WithMetadata("rule", rule.Name)
		}
		seen[rule.Name] = true

		if c, err := domain.ParseMatchCondition(string(rule.Condition)); err != nil || c != rule.Condition {
			v.errs = append(v.errs, lberrors.NewInvalidFieldError(component, "condition", string(rule.Condition)).WithMetadata("rule", rule.Name))
		}

		if strings.TrimSpace(rule.Pattern) == "" {
			v.add(lberrors.ErrCodeEmptyPattern, "rule %q has a blank pattern", rule.Name).
				WithMetadata("rule", rule.Name)
		} else if rule.Condition == domain.RegexMatch {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				v.add(lberrors.ErrCodeInvalidPattern, "rule %q pattern does not compile: %v", rule.Name, err).
					WithMetadata("rule", rule.Name)
			}
		}

		if !m.HasBackend(rule.Backend) {
			v.add(lberrors.ErrCodeDanglingRuleReference, "rule %q routes to unknown backend %q", rule.Name, rule.Backend.String()).
				WithMetadata("rule", rule.Name).WithMetadata("backend", rule.Backend.String())
			continue
		}
		if pool, ok := m.Pool(rule.Backend.Name()); ok && pool.Mode == domain.ModeTCP {
			v.add(lberrors.ErrCodeIncompatibleMode, "rule %q inspects HTTP paths but routes to TCP pool %q", rule.Name, pool.Name).
				WithMetadata("rule", rule.Name).WithMetadata("pool", pool.Name)
		}
	}
}

func (v *collector) checkDefault(m *domain.DomainRouting) {
	if !m.HasBackend(m.DefaultBackend) {
		v.add(lberrors.ErrCodeInvalidDefaultBackend, "default backend %q is not a defined pool", m.DefaultBackend.String()).
			WithMetadata("backend", m.DefaultBackend.String())
		return
	}
	pool, ok := m.Pool(m.DefaultBackend.Name())
	if !ok || m.DefaultBackend.IsSystem() || pool.Mode != domain.ModeTCP {
		return
	}
	if m.SSL.Mode != domain.SSLPassthrough {
		v.add(lberrors.ErrCodeIncompatibleMode, "TCP pool %q can only be the default backend with SSL passthrough", pool.Name).
			WithMetadata("pool", pool.Name)
	}
	if m.RoutingMode == domain.RoutingAdvanced && len(m.ACLRules) > 0 {
		v.add(lberrors.ErrCodeIncompatibleMode, "TCP default pool %q cannot be combined with ACL rules", pool.Name).
			WithMetadata("pool", pool.Name)
	}
}
