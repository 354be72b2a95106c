package domain

import (
	"regexp"
	"strings"

	"github.com/mir00r/domain-router/internal/address"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"golang.org/x/net/idna"
)

// SystemBackendName is the persisted spelling of the system backend. It is
// reserved and cannot be used as a pool name.
const SystemBackendName = "system"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidName reports whether name is usable as a pool, server or rule name
func ValidName(name string) bool {
	return namePattern.MatchString(name) && name != SystemBackendName
}

// BackendRef points either at the host's built-in web server or at a named
// pool of the same domain. The zero value is the system backend.
type BackendRef struct {
	name string
}

// SystemBackend returns the reference to the host's built-in web server
func SystemBackend() BackendRef {
	return BackendRef{}
}

// NamedBackend returns a reference to the pool called name
func NamedBackend(name string) BackendRef {
	return BackendRef{name: name}
}

// ParseBackendRef maps the persisted spelling back to a reference. Both the
// empty string and "system" denote the system backend.
func ParseBackendRef(s string) BackendRef {
	s = strings.TrimSpace(s)
	if s == "" || s == SystemBackendName {
		return SystemBackend()
	}
	return NamedBackend(s)
}

// IsSystem reports whether r is the system backend
func (r BackendRef) IsSystem() bool {
	return r.name == ""
}

// Name returns the pool name, or "" for the system backend
func (r BackendRef) Name() string {
	return r.name
}

// String returns the persisted spelling
func (r BackendRef) String() string {
	if r.IsSystem() {
		return SystemBackendName
	}
	return r.name
}

// PoolOptions are the independent behaviour switches of a pool
type PoolOptions struct {
	HealthCheck    bool
	StickySession  bool
	Websocket      bool
	ForwardHeaders bool
}

// DefaultPoolOptions returns the options applied when none are given
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{HealthCheck: true, ForwardHeaders: true}
}

// BackendServer is one member of a pool
type BackendServer struct {
	Name         string
	Address      address.Address
	ExtraOptions string
}

// NewBackendServer creates a server after checking that its address resolves
func NewBackendServer(name string, addr address.Address, extraOptions string) (BackendServer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return BackendServer{}, lberrors.NewMissingFieldError("domain", "server.name")
	}
	if !ValidName(name) {
		return BackendServer{}, invalidName("server", name)
	}
	if _, err := address.Resolve(addr); err != nil {
		return BackendServer{}, err
	}
	return BackendServer{
		Name:         name,
		Address:      addr,
		ExtraOptions: strings.TrimSpace(extraOptions),
	}, nil
}

// ResolvedAddress returns the canonical address derived from Address, or ""
// if the address does not resolve.
func (s BackendServer) ResolvedAddress() string {
	resolved, err := address.Resolve(s.Address)
	if err != nil {
		return ""
	}
	return resolved
}

// BackendPool is a named group of servers sharing a balancing method
type BackendPool struct {
	Name    string
	Mode    PoolMode
	Balance BalanceMethod
	Options PoolOptions
	Servers []BackendServer
}

// NewBackendPool creates an HTTP round-robin pool with default options
func NewBackendPool(name string, servers ...BackendServer) BackendPool {
	return BackendPool{
		Name:    name,
		Mode:    ModeHTTP,
		Balance: BalanceRoundRobin,
		Options: DefaultPoolOptions(),
		Servers: servers,
	}
}

// ServerIndex returns the position of the named server or -1
func (p *BackendPool) ServerIndex(name string) int {
	for i := range p.Servers {
		if p.Servers[i].Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of p
func (p BackendPool) Clone() BackendPool {
	if p.Servers != nil {
		servers := make([]BackendServer, len(p.Servers))
		copy(servers, p.Servers)
		p.Servers = servers
	}
	return p
}

// ACLRule routes requests whose path matches Pattern to Backend
type ACLRule struct {
	Name      string
	Condition MatchCondition
	Pattern   string
	Backend   BackendRef
}

// SSLConfig describes TLS handling for a domain
type SSLConfig struct {
	Mode SSLMode
	// ForceHTTPS redirects plain HTTP requests when TLS is offered
	ForceHTTPS bool
}

// DomainRouting is the routing model of one public domain
type DomainRouting struct {
	Domain         string
	Aliases        []string
	Enabled        bool
	RoutingMode    RoutingMode
	DefaultBackend BackendRef
	ACLRules       []ACLRule
	Backends       []BackendPool
	SSL            SSLConfig
}

// NewDomainRouting creates an enabled, Simple-mode model that sends all
// traffic to the system backend.
func NewDomainRouting(domain string) (*DomainRouting, error) {
	host, err := CanonicalHostname(domain)
	if err != nil {
		return nil, err
	}
	return &DomainRouting{
		Domain:         host,
		Enabled:        true,
		RoutingMode:    RoutingSimple,
		DefaultBackend: SystemBackend(),
		SSL:            SSLConfig{Mode: SSLNone},
	}, nil
}

// CanonicalHostname lower-cases s and converts it to its ASCII (punycode)
// form. A leading "*." wildcard label is preserved.
func CanonicalHostname(s string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(s), ".")
	if host == "" {
		return "", lberrors.NewMissingFieldError("domain", "domain")
	}

	wildcard := strings.HasPrefix(host, "*.")
	if wildcard {
		host = host[2:]
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", lberrors.WrapError(err, lberrors.ErrCodeInvalidField, "domain", "invalid hostname "+s).
			WithMetadata("field", "domain")
	}
	if wildcard {
		ascii = "*." + ascii
	}
	return ascii, nil
}

// Hostnames returns the domain followed by its aliases
func (m *DomainRouting) Hostnames() []string {
	hosts := make([]string, 0, 1+len(m.Aliases))
	hosts = append(hosts, m.Domain)
	return append(hosts, m.Aliases...)
}

// PoolIndex returns the position of the named pool or -1
func (m *DomainRouting) PoolIndex(name string) int {
	for i := range m.Backends {
		if m.Backends[i].Name == name {
			return i
		}
	}
	return -1
}

// Pool returns the named pool
func (m *DomainRouting) Pool(name string) (*BackendPool, bool) {
	if i := m.PoolIndex(name); i >= 0 {
		return &m.Backends[i], true
	}
	return nil, false
}

// HasBackend reports whether ref is the system backend or an existing pool
func (m *DomainRouting) HasBackend(ref BackendRef) bool {
	return ref.IsSystem() || m.PoolIndex(ref.Name()) >= 0
}

// RuleIndex returns the position of the named rule or -1
func (m *DomainRouting) RuleIndex(name string) int {
	for i := range m.ACLRules {
		if m.ACLRules[i].Name == name {
			return i
		}
	}
	return -1
}

// RulesReferencing returns the names of the rules routing to pool
func (m *DomainRouting) RulesReferencing(pool string) []string {
	var names []string
	for _, rule := range m.ACLRules {
		if !rule.Backend.IsSystem() && rule.Backend.Name() == pool {
			names = append(names, rule.Name)
		}
	}
	return names
}

// Clone returns a deep copy of m
func (m *DomainRouting) Clone() *DomainRouting {
	if m == nil {
		return nil
	}
	c := *m
	if m.Aliases != nil {
		c.Aliases = append([]string(nil), m.Aliases...)
	}
	if m.ACLRules != nil {
		c.ACLRules = append([]ACLRule(nil), m.ACLRules...)
	}
	if m.Backends != nil {
		c.Backends = make([]BackendPool, len(m.Backends))
		for i, pool := range m.Backends {
			c.Backends[i] = pool.Clone()
		}
	}
	return &c
}

func invalidName(kind, name string) *lberrors.RoutingError {
	return lberrors.NewError(
		lberrors.ErrCodeInvalidName,
		"domain",
		kind+" name "+`"`+name+`"`+" must be 1-64 characters of [A-Za-z0-9_.-] and not \"system\"",
	).WithMetadata("name", name)
}

// CheckName returns an INVALID_NAME error if name is not identifier-safe
func CheckName(kind, name string) error {
	if !ValidName(name) {
		return invalidName(kind, name)
	}
	return nil
}
