package record

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mir00r/domain-router/internal/domain"
)

// DefaultPoolName is the pool synthesized from a legacy record's direct servers
const DefaultPoolName = "be_default"

// LegacyRecord is the flat single-backend record shape written by earlier
// releases.
type LegacyRecord struct {
	Domain    string           `json:"domain"`
	Aliases   []string         `json:"aliases,omitempty"`
	Enabled   *bool            `json:"enabled,omitempty"`
	Mode      string           `json:"mode,omitempty"`
	Balance   string           `json:"balance,omitempty"`
	Options   LegacyOptions    `json:"options"`
	Backend   *LegacyBackend   `json:"backend,omitempty"`
	Servers   []ServerRecord   `json:"servers,omitempty"`
	PathRules []LegacyPathRule `json:"pathRules,omitempty"`
	SSL       *SSLRecord       `json:"ssl,omitempty"`
}

// LegacyOptions keeps track of which switches were written explicitly
type LegacyOptions struct {
	HealthCheck    *bool `json:"healthCheck,omitempty"`
	StickySession  *bool `json:"stickySession,omitempty"`
	Websocket      *bool `json:"websocket,omitempty"`
	ForwardHeaders *bool `json:"forwardHeaders,omitempty"`
}

// LegacyBackend is the single implicit backend of a legacy record
type LegacyBackend struct {
	Host string     `json:"host"`
	Port FlexString `json:"port"`
}

// LegacyPathRule routes a path to its own list of servers
type LegacyPathRule struct {
	Name      string         `json:"name,omitempty"`
	Path      string         `json:"path"`
	Condition string         `json:"condition,omitempty"`
	Servers   []ServerRecord `json:"servers,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	Balance   string         `json:"balance,omitempty"`
	Options   LegacyOptions  `json:"options"`
}

// FlexString accepts both JSON strings and numbers. Legacy records stored
// ports either way.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// NormalizeLegacy converts a legacy record into the current schema. The
// conversion is deterministic: identical input always yields identical output.
func NormalizeLegacy(l *LegacyRecord) *Record {
	r := &Record{
		Domain:         l.Domain,
		Aliases:        l.Aliases,
		Enabled:        l.Enabled,
		RoutingMode:    domain.RoutingSimple.String(),
		DefaultBackend: domain.SystemBackendName,
		ACLRules:       []ACLRuleRecord{},
		Backends:       []PoolRecord{},
		SSL:            SSLRecord{Mode: domain.SSLNone.String()},
	}
	if r.Enabled == nil {
		enabled := true
		r.Enabled = &enabled
	}
	if l.SSL != nil {
		r.SSL = *l.SSL
		if mode, err := domain.ParseSSLMode(l.SSL.Mode); err == nil {
			r.SSL.Mode = mode.String()
		}
	}

	poolTaken := func(name string) bool {
		for _, p := range r.Backends {
			if p.Name == name {
				return true
			}
		}
		return false
	}
	ruleTaken := func(name string) bool {
		for _, rule := range r.ACLRules {
			if rule.Name == name {
				return true
			}
		}
		return false
	}

	if servers := directServers(l); len(servers) > 0 {
		r.Backends = append(r.Backends, legacyPool(DefaultPoolName, l.Mode, l.Balance, l.Options, servers))
		r.DefaultBackend = DefaultPoolName
	}

	for i, pr := range l.PathRules {
		condition := strings.TrimSpace(pr.Condition)
		if c, err := domain.ParseMatchCondition(condition); err == nil {
			condition = c.String()
		}

		base := domain.Slug(pr.Name)
		if base == "" {
			base = domain.Slug(pr.Path)
		}
		if base == "" {
			base = "rule"
		}
		rule := ACLRuleRecord{
			Name:      domain.UniqueName(base, ruleTaken),
			Condition: condition,
			Pattern:   pr.Path,
			Backend:   domain.SystemBackendName,
		}

		if len(pr.Servers) > 0 {
			suffix := domain.Slug(pr.Name)
			if suffix == "" {
				suffix = strconv.Itoa(i + 1)
			}
			name := domain.UniqueName("be_"+suffix, poolTaken)
			r.Backends = append(r.Backends, legacyPool(
				name,
				fallback(pr.Mode, l.Mode),
				fallback(pr.Balance, l.Balance),
				pr.Options.inherit(l.Options),
				pr.Servers,
			))
			rule.Backend = name
		}
		r.ACLRules = append(r.ACLRules, rule)
	}

	if len(r.ACLRules) > 0 {
		r.RoutingMode = domain.RoutingAdvanced.String()
	}
	return r
}

// directServers returns the explicit server list, or a single server built
// from backend.host/backend.port when no list is present.
func directServers(l *LegacyRecord) []ServerRecord {
	if len(l.Servers) > 0 {
		return l.Servers
	}
	if l.Backend == nil || strings.TrimSpace(l.Backend.Host) == "" {
		return nil
	}
	return []ServerRecord{{Address: joinHostPort(l.Backend.Host, string(l.Backend.Port))}}
}

func joinHostPort(host, port string) string {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	if port == "" {
		return host
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + port
}

func legacyPool(name, mode, balance string, opts LegacyOptions, servers []ServerRecord) PoolRecord {
	pool := PoolRecord{
		Name:    name,
		Mode:    domain.ModeHTTP.String(),
		Balance: domain.BalanceRoundRobin.String(),
		Options: opts.resolve(),
		Servers: make([]ServerRecord, 0, len(servers)),
	}
	if m, err := domain.ParsePoolMode(mode); err == nil {
		pool.Mode = m.String()
	} else {
		pool.Mode = mode
	}
	if b, err := domain.ParseBalanceMethod(balance); err == nil {
		pool.Balance = b.String()
	} else {
		pool.Balance = balance
	}

	taken := func(name string) bool {
		for _, s := range pool.Servers {
			if s.Name == name {
				return true
			}
		}
		return false
	}
	for i, s := range servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "server" + strconv.Itoa(i+1)
		}
		s.Name = domain.UniqueName(name, taken)
		s.Address = strings.TrimSpace(s.Address)
		pool.Servers = append(pool.Servers, s)
	}
	return pool
}

func (o LegacyOptions) inherit(parent LegacyOptions) LegacyOptions {
	if o.HealthCheck == nil {
		o.HealthCheck = parent.HealthCheck
	}
	if o.StickySession == nil {
		o.StickySession = parent.StickySession
	}
	if o.Websocket == nil {
		o.Websocket = parent.Websocket
	}
	if o.ForwardHeaders == nil {
		o.ForwardHeaders = parent.ForwardHeaders
	}
	return o
}

// resolve applies the documented defaults to switches left unset
func (o LegacyOptions) resolve() OptionsRecord {
	defaults := domain.DefaultPoolOptions()
	return OptionsRecord{
		HealthCheck:    boolOr(o.HealthCheck, defaults.HealthCheck),
		StickySession:  boolOr(o.StickySession, defaults.StickySession),
		Websocket:      boolOr(o.Websocket, defaults.Websocket),
		ForwardHeaders: boolOr(o.ForwardHeaders, defaults.ForwardHeaders),
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
