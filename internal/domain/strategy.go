package domain

import (
	"strings"

	lberrors "github.com/mir00r/domain-router/internal/errors"
)

// BalanceMethod is the algorithm used to pick a server within a pool
type BalanceMethod string

const (
	// BalanceRoundRobin rotates through servers in turn
	BalanceRoundRobin BalanceMethod = "roundrobin"
	// BalanceLeastConnections picks the server with the fewest active connections
	BalanceLeastConnections BalanceMethod = "leastconn"
	// BalanceSourceIP hashes the client address for affinity
	BalanceSourceIP BalanceMethod = "source"
	// BalanceURIHash hashes the request URI
	BalanceURIHash BalanceMethod = "uri"
	// BalanceFirst fills the first server before using the next one
	BalanceFirst BalanceMethod = "first"
	// BalanceRandom picks a random server
	BalanceRandom BalanceMethod = "random"
)

var balanceAliases = map[string]BalanceMethod{
	"roundrobin":        BalanceRoundRobin,
	"round_robin":       BalanceRoundRobin,
	"leastconn":         BalanceLeastConnections,
	"least_connections": BalanceLeastConnections,
	"source":            BalanceSourceIP,
	"ip_hash":           BalanceSourceIP,
	"uri":               BalanceURIHash,
	"uri_hash":          BalanceURIHash,
	"first":             BalanceFirst,
	"random":            BalanceRandom,
}

// ParseBalanceMethod parses a balance token; empty input yields round robin.
func ParseBalanceMethod(s string) (BalanceMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BalanceRoundRobin, nil
	}
	if m, ok := balanceAliases[s]; ok {
		return m, nil
	}
	return "", lberrors.NewInvalidFieldError("domain", "balance", s)
}

// String returns the persisted token
func (b BalanceMethod) String() string {
	return string(b)
}

// PoolMode is the proxying layer of a backend pool
type PoolMode string

const (
	ModeHTTP PoolMode = "http"
	ModeTCP  PoolMode = "tcp"
)

// ParsePoolMode parses a pool mode token; empty input yields HTTP.
func ParsePoolMode(s string) (PoolMode, error) {
	switch m := PoolMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHTTP, nil
	case ModeHTTP, ModeTCP:
		return m, nil
	default:
		return "", lberrors.NewInvalidFieldError("domain", "mode", s)
	}
}

// String returns the persisted token
func (m PoolMode) String() string {
	return string(m)
}

// RoutingMode selects whether ACL rules are evaluated
type RoutingMode string

const (
	// RoutingSimple sends everything to the default backend
	RoutingSimple RoutingMode = "simple"
	// RoutingAdvanced evaluates ACL rules in order before the default backend
	RoutingAdvanced RoutingMode = "advanced"
)

// ParseRoutingMode parses a routing mode token; empty input yields Simple.
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch m := RoutingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return RoutingSimple, nil
	case RoutingSimple, RoutingAdvanced:
		return m, nil
	default:
		return "", lberrors.NewInvalidFieldError("domain", "routingMode", s)
	}
}

// String returns the persisted token
func (m RoutingMode) String() string {
	return string(m)
}

// MatchCondition is how an ACL rule compares the request path with its pattern
type MatchCondition string

const (
	PrefixMatch MatchCondition = "path_beg"
	SuffixMatch MatchCondition = "path_end"
	ExactMatch  MatchCondition = "path"
	RegexMatch  MatchCondition = "path_reg"
)

var conditionAliases = map[string]MatchCondition{
	"path_beg": PrefixMatch,
	"prefix":   PrefixMatch,
	"path_end": SuffixMatch,
	"suffix":   SuffixMatch,
	"path":     ExactMatch,
	"exact":    ExactMatch,
	"path_reg": RegexMatch,
	"regex":    RegexMatch,
}

// ParseMatchCondition parses a condition token; empty input yields PrefixMatch.
func ParseMatchCondition(s string) (MatchCondition, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PrefixMatch, nil
	}
	if c, ok := conditionAliases[s]; ok {
		return c, nil
	}
	return "", lberrors.NewInvalidFieldError("domain", "condition", s)
}

// String returns the persisted token
func (c MatchCondition) String() string {
	return string(c)
}

// SSLMode is how TLS is handled for a domain
type SSLMode string

const (
	SSLNone        SSLMode = "none"
	SSLPassthrough SSLMode = "passthrough"
	SSLTermination SSLMode = "termination"
)

// ParseSSLMode parses an SSL mode token; empty input yields SSLNone.
func ParseSSLMode(s string) (SSLMode, error) {
	switch m := SSLMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SSLNone, nil
	case SSLNone, SSLPassthrough, SSLTermination:
		return m, nil
	default:
		return "", lberrors.NewInvalidFieldError("domain", "ssl.mode", s)
	}
}

// String returns the persisted token
func (m SSLMode) String() string {
	return string(m)
}
