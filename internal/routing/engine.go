// Package routing owns the ordered ACL path rules of a routing model and the
// reference evaluation of how a request path is dispatched.
package routing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/pkg/logger"
)

const component = "acl_engine"

// regexCacheSize bounds the compiled path_reg patterns kept between calls
const regexCacheSize = 256

// RouteResult describes which backend a path dispatches to
type RouteResult struct {
	Backend     domain.BackendRef `json:"-"`
	BackendName string            `json:"backend"`
	MatchedRule string            `json:"matched_rule,omitempty"`
	RuleIndex   int               `json:"rule_index"`
	Fallback    bool              `json:"fallback"`
}

// RoutingStats counts route evaluations
type RoutingStats struct {
	TotalLookups     int64 `json:"total_lookups"`
	MatchedLookups   int64 `json:"matched_lookups"`
	UnmatchedLookups int64 `json:"unmatched_lookups"`
}

// RouteEngine edits ACL rules and evaluates paths against them. Edits never
// mutate the model passed in; they return an updated copy.
type RouteEngine struct {
	logger *logger.Logger

	// recently used path_reg patterns keyed by source
	regexCache *lru.Cache[string, *regexp.Regexp]

	stats      RoutingStats
	statsMutex sync.RWMutex
}

// NewRouteEngine creates a new routing engine
func NewRouteEngine(log *logger.Logger) *RouteEngine {
	if log == nil {
		log = logger.NewNop()
	}
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &RouteEngine{logger: log, regexCache: cache}
}

// AddRule appends rule to the model. The target backend must already exist;
// a missing name is derived from the pattern.
func (re *RouteEngine) AddRule(m *domain.DomainRouting, rule domain.ACLRule) (*domain.DomainRouting, error) {
	rule, err := re.prepareRule(m, rule, -1)
	if err != nil {
		return nil, err
	}

	out := m.Clone()
	out.ACLRules = append(out.ACLRules, rule)

	re.logger.WithFields(map[string]interface{}{
		"domain":    m.Domain,
		"rule_name": rule.Name,
		"condition": rule.Condition.String(),
		"pattern":   rule.Pattern,
		"backend":   rule.Backend.String(),
	}).Info("Routing rule added")
	return out, nil
}

// UpdateRule replaces the rule at index
func (re *RouteEngine) UpdateRule(m *domain.DomainRouting, index int, rule domain.ACLRule) (*domain.DomainRouting, error) {
	if index < 0 || index >= len(m.ACLRules) {
		return nil, ruleNotFound(index)
	}
	rule, err := re.prepareRule(m, rule, index)
	if err != nil {
		return nil, err
	}

	out := m.Clone()
	out.ACLRules[index] = rule

	re.logger.WithFields(map[string]interface{}{
		"domain":    m.Domain,
		"rule_name": rule.Name,
		"index":     index,
	}).Info("Routing rule updated")
	return out, nil
}

// RemoveRule removes the rule at index. Pools are left in place.
func (re *RouteEngine) RemoveRule(m *domain.DomainRouting, index int) (*domain.DomainRouting, error) {
	if index < 0 || index >= len(m.ACLRules) {
		return nil, ruleNotFound(index)
	}

	out := m.Clone()
	removed := out.ACLRules[index]
	out.ACLRules = append(out.ACLRules[:index], out.ACLRules[index+1:]...)

	re.logger.WithFields(map[string]interface{}{
		"domain":    m.Domain,
		"rule_name": removed.Name,
	}).Info("Routing rule removed")
	return out, nil
}

// MoveRule moves the rule at from to position to, shifting the rules between
func (re *RouteEngine) MoveRule(m *domain.DomainRouting, from, to int) (*domain.DomainRouting, error) {
	if from < 0 || from >= len(m.ACLRules) {
		return nil, ruleNotFound(from)
	}
	if to < 0 || to >= len(m.ACLRules) {
		return nil, ruleNotFound(to)
	}

	out := m.Clone()
	rule := out.ACLRules[from]
	rules := append(out.ACLRules[:from:from], out.ACLRules[from+1:]...)
	rules = append(rules[:to], append([]domain.ACLRule{rule}, rules[to:]...)...)
	out.ACLRules = rules

	re.logger.WithFields(map[string]interface{}{
		"domain":    m.Domain,
		"rule_name": rule.Name,
		"from":      from,
		"to":        to,
	}).Info("Routing rule moved")
	return out, nil
}

// SetRoutingMode switches between Simple and Advanced routing. Rules are kept
// when switching to Simple; they are just not evaluated.
func (re *RouteEngine) SetRoutingMode(m *domain.DomainRouting, mode domain.RoutingMode) (*domain.DomainRouting, error) {
	if _, err := domain.ParseRoutingMode(string(mode)); err != nil || mode == "" {
		return nil, lberrors.NewInvalidFieldError(component, "routingMode", string(mode))
	}
	out := m.Clone()
	out.RoutingMode = mode
	return out, nil
}

// SetDefaultBackend points unmatched traffic at ref
func (re *RouteEngine) SetDefaultBackend(m *domain.DomainRouting, ref domain.BackendRef) (*domain.DomainRouting, error) {
	if !m.HasBackend(ref) {
		return nil, lberrors.NewUnknownBackendError(component, ref.String())
	}
	out := m.Clone()
	out.DefaultBackend = ref

	re.logger.WithFields(map[string]interface{}{
		"domain":          m.Domain,
		"default_backend": ref.String(),
	}).Info("Default backend changed")
	return out, nil
}

// SetAliases replaces the additional hostnames of the model
func (re *RouteEngine) SetAliases(m *domain.DomainRouting, aliases []string) (*domain.DomainRouting, error) {
	seen := map[string]bool{m.Domain: true}
	canonical := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		host, err := domain.CanonicalHostname(alias)
		if err != nil {
			return nil, err
		}
		if seen[host] {
			return nil, lberrors.NewError(
				lberrors.ErrCodeDuplicateName,
				component,
				fmt.Sprintf("hostname %q is listed more than once", host),
			).WithMetadata("name", host)
		}
		seen[host] = true
		canonical = append(canonical, host)
	}

	out := m.Clone()
	out.Aliases = canonical
	return out, nil
}

// SetSSL replaces the TLS configuration of the model
func (re *RouteEngine) SetSSL(m *domain.DomainRouting, ssl domain.SSLConfig) (*domain.DomainRouting, error) {
	mode, err := domain.ParseSSLMode(string(ssl.Mode))
	if err != nil {
		return nil, err
	}
	ssl.Mode = mode
	out := m.Clone()
	out.SSL = ssl
	return out, nil
}

// SetEnabled turns proxying for the domain on or off
func (re *RouteEngine) SetEnabled(m *domain.DomainRouting, enabled bool) *domain.DomainRouting {
	out := m.Clone()
	out.Enabled = enabled
	return out
}

// Route returns the backend that serves path. In Simple mode that is always
// the default backend; in Advanced mode the first matching rule wins.
func (re *RouteEngine) Route(m *domain.DomainRouting, path string) RouteResult {
	result := RouteResult{
		Backend:     m.DefaultBackend,
		BackendName: m.DefaultBackend.String(),
		RuleIndex:   -1,
		Fallback:    true,
	}

	if m.RoutingMode == domain.RoutingAdvanced {
		for i, rule := range m.ACLRules {
			if re.Matches(rule, path) {
				result = RouteResult{
					Backend:     rule.Backend,
					BackendName: rule.Backend.String(),
					MatchedRule: rule.Name,
					RuleIndex:   i,
				}
				break
			}
		}
	}

	re.statsMutex.Lock()
	re.stats.TotalLookups++
	if result.Fallback {
		re.stats.UnmatchedLookups++
	} else {
		re.stats.MatchedLookups++
	}
	re.statsMutex.Unlock()

	re.logger.WithFields(map[string]interface{}{
		"domain":       m.Domain,
		"request_path": path,
		"backend":      result.BackendName,
		"rule_name":    result.MatchedRule,
	}).Debug("Path routed")
	return result
}

// Matches reports whether path satisfies the rule's condition. A regular
// expression that does not compile never matches.
func (re *RouteEngine) Matches(rule domain.ACLRule, path string) bool {
	switch rule.Condition {
	case domain.PrefixMatch:
		return strings.HasPrefix(path, rule.Pattern)
	case domain.SuffixMatch:
		return strings.HasSuffix(path, rule.Pattern)
	case domain.ExactMatch:
		return path == rule.Pattern
	case domain.RegexMatch:
		rx, err := re.compile(rule.Pattern)
		if err != nil {
			return false
		}
		return rx.MatchString(path)
	default:
		return false
	}
}

// GetStats returns routing engine statistics
func (re *RouteEngine) GetStats() RoutingStats {
	re.statsMutex.RLock()
	defer re.statsMutex.RUnlock()

	return re.stats
}

func (re *RouteEngine) compile(pattern string) (*regexp.Regexp, error) {
	if rx, ok := re.regexCache.Get(pattern); ok {
		return rx, nil
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	re.regexCache.Add(pattern, rx)
	return rx, nil
}

// prepareRule checks rule against m and fills in defaults. skip is the index
// of the rule being replaced, or -1.
func (re *RouteEngine) prepareRule(m *domain.DomainRouting, rule domain.ACLRule, skip int) (domain.ACLRule, error) {
	rule.Pattern = strings.TrimSpace(rule.Pattern)
	if rule.Pattern == "" {
		return rule, lberrors.NewError(lberrors.ErrCodeEmptyPattern, component, "rule pattern must not be blank")
	}

	condition, err := domain.ParseMatchCondition(string(rule.Condition))
	if err != nil {
		return rule, err
	}
	rule.Condition = condition
	if condition == domain.RegexMatch {
		if _, err := re.compile(rule.Pattern); err != nil {
			return rule, lberrors.WrapError(err, lberrors.ErrCodeInvalidPattern, component, "rule pattern is not a valid regular expression").
				WithMetadata("pattern", rule.Pattern)
		}
	}

	if !m.HasBackend(rule.Backend) {
		return rule, lberrors.NewUnknownBackendError(component, rule.Backend.String())
	}

	taken := func(name string) bool {
		i := m.RuleIndex(name)
		return i >= 0 && i != skip
	}

	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		base := domain.Slug(rule.Pattern)
		if base == "" {
			base = "rule"
		}
		rule.Name = domain.UniqueName(base, taken)
		return rule, nil
	}

	if err := domain.CheckName("rule", rule.Name); err != nil {
		return rule, err
	}
	if taken(rule.Name) {
		return rule, lberrors.NewError(
			lberrors.ErrCodeDuplicateName,
			component,
			fmt.Sprintf("rule %q already exists", rule.Name),
		).WithMetadata("name", rule.Name)
	}
	return rule, nil
}

func ruleNotFound(index int) *lberrors.RoutingError {
	return lberrors.NewError(
		lberrors.ErrCodeRuleNotFound,
		component,
		fmt.Sprintf("no ACL rule at index %d", index),
	).WithMetadata("index", index)
}
