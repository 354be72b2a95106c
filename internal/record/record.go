// Package record defines the persisted shape of a domain routing record and
// converts between it, the legacy flat shape and the typed routing model.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
)

const component = "record"

// Format identifies which schema a persisted record was decoded from
type Format string

const (
	FormatCurrent Format = "current"
	FormatLegacy  Format = "legacy"
)

// Record is the persisted domain routing record
type Record struct {
	Domain         string          `json:"domain"`
	Aliases        []string        `json:"aliases,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
	RoutingMode    string          `json:"routingMode"`
	DefaultBackend string          `json:"defaultBackend"`
	ACLRules       []ACLRuleRecord `json:"aclRules"`
	Backends       []PoolRecord    `json:"backends"`
	SSL            SSLRecord       `json:"ssl"`
}

// ACLRuleRecord is one persisted path rule
type ACLRuleRecord struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Pattern   string `json:"pattern"`
	Backend   string `json:"backend"`
}

// PoolRecord is one persisted backend pool
type PoolRecord struct {
	Name    string         `json:"name"`
	Mode    string         `json:"mode"`
	Balance string         `json:"balance"`
	Options OptionsRecord  `json:"options"`
	Servers []ServerRecord `json:"servers"`
}

// OptionsRecord holds the pool switches
type OptionsRecord struct {
	HealthCheck    bool `json:"healthCheck"`
	StickySession  bool `json:"stickySession"`
	Websocket      bool `json:"websocket"`
	ForwardHeaders bool `json:"forwardHeaders"`
}

// ServerRecord is one persisted pool member. Address is the canonical
// address string; AddressType disambiguates socket forms when present.
type ServerRecord struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	AddressType string `json:"addressType,omitempty"`
	Options     string `json:"options,omitempty"`
}

// SSLRecord is the persisted TLS configuration
type SSLRecord struct {
	Mode       string `json:"mode"`
	ForceHTTPS bool   `json:"forceHttps,omitempty"`
}

// Decode reads a persisted record. The current schema is tried first; if the
// data does not fit it, the legacy schema is tried and normalized.
func Decode(data []byte) (*Record, Format, error) {
	var current Record
	currentErr := decodeStrict(data, &current)
	if currentErr == nil && current.Backends == nil {
		currentErr = errors.New("backends is required")
	}
	if currentErr == nil {
		return &current, FormatCurrent, nil
	}

	var legacy LegacyRecord
	legacyErr := decodeStrict(data, &legacy)
	if legacyErr == nil {
		return NormalizeLegacy(&legacy), FormatLegacy, nil
	}

	return nil, "", lberrors.NewErrorWithCause(
		lberrors.ErrCodeInvalidRecord,
		component,
		"record matches neither the current nor the legacy schema",
		errors.Join(
			fmt.Errorf("current schema: %w", currentErr),
			fmt.Errorf("legacy schema: %w", legacyErr),
		),
	)
}

// Normalize decodes data in either schema and returns it in the current one.
// Records already in the current schema are returned unchanged.
func Normalize(data []byte) (*Record, error) {
	r, _, err := Decode(data)
	return r, err
}

// DecodeModel decodes data and converts it to a routing model
func DecodeModel(data []byte) (*domain.DomainRouting, error) {
	r, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	return ToModel(r)
}

// Encode renders r as indented JSON with a trailing newline
func Encode(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInternalError, component, "failed to encode record")
	}
	return append(data, '\n'), nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after record")
	}
	return nil
}

// ToModel converts a record into the typed routing model. Enum values that do
// not parse are reported as INVALID_FIELD and unusable addresses are reported
// by the address resolver.
func ToModel(r *Record) (*domain.DomainRouting, error) {
	m, err := domain.NewDomainRouting(r.Domain)
	if err != nil {
		return nil, err
	}

	for _, alias := range r.Aliases {
		host, err := domain.CanonicalHostname(alias)
		if err != nil {
			return nil, annotate(err, "alias", alias)
		}
		m.Aliases = append(m.Aliases, host)
	}

	m.Enabled = r.Enabled == nil || *r.Enabled
	if m.RoutingMode, err = domain.ParseRoutingMode(r.RoutingMode); err != nil {
		return nil, err
	}
	m.DefaultBackend = domain.ParseBackendRef(r.DefaultBackend)
	if m.SSL.Mode, err = domain.ParseSSLMode(r.SSL.Mode); err != nil {
		return nil, err
	}
	m.SSL.ForceHTTPS = r.SSL.ForceHTTPS

	for _, p := range r.Backends {
		pool, err := PoolToModel(p)
		if err != nil {
			return nil, annotate(err, "pool", p.Name)
		}
		m.Backends = append(m.Backends, pool)
	}

	for _, rr := range r.ACLRules {
		rule, err := RuleToModel(rr)
		if err != nil {
			return nil, err
		}
		m.ACLRules = append(m.ACLRules, rule)
	}

	return m, nil
}

// PoolToModel converts one persisted pool
func PoolToModel(p PoolRecord) (domain.BackendPool, error) {
	mode, err := domain.ParsePoolMode(p.Mode)
	if err != nil {
		return domain.BackendPool{}, err
	}
	balance, err := domain.ParseBalanceMethod(p.Balance)
	if err != nil {
		return domain.BackendPool{}, err
	}

	pool := domain.BackendPool{
		Name:    p.Name,
		Mode:    mode,
		Balance: balance,
		Options: domain.PoolOptions{
			HealthCheck:    p.Options.HealthCheck,
			StickySession:  p.Options.StickySession,
			Websocket:      p.Options.Websocket,
			ForwardHeaders: p.Options.ForwardHeaders,
		},
		Servers: make([]domain.BackendServer, 0, len(p.Servers)),
	}

	for _, s := range p.Servers {
		server, err := ServerToModel(s)
		if err != nil {
			return domain.BackendPool{}, err
		}
		pool.Servers = append(pool.Servers, server)
	}
	return pool, nil
}

// ServerToModel converts one persisted server. The address must resolve.
func ServerToModel(s ServerRecord) (domain.BackendServer, error) {
	addr, err := ParseAddress(s.Address, s.AddressType)
	if err != nil {
		return domain.BackendServer{}, annotate(err, "server", s.Name)
	}
	if _, err := address.Resolve(addr); err != nil {
		return domain.BackendServer{}, annotate(err, "server", s.Name)
	}
	return domain.BackendServer{
		Name:         s.Name,
		Address:      addr,
		ExtraOptions: strings.TrimSpace(s.Options),
	}, nil
}

// RuleToModel converts one persisted rule
func RuleToModel(r ACLRuleRecord) (domain.ACLRule, error) {
	condition, err := domain.ParseMatchCondition(r.Condition)
	if err != nil {
		return domain.ACLRule{}, annotate(err, "rule", r.Name)
	}
	return domain.ACLRule{
		Name:      r.Name,
		Condition: condition,
		Pattern:   r.Pattern,
		Backend:   domain.ParseBackendRef(r.Backend),
	}, nil
}

// ParseAddress builds a typed address from a persisted address string and an
// optional address type token.
func ParseAddress(raw, addressType string) (address.Address, error) {
	if strings.TrimSpace(addressType) == "" {
		return address.Parse(raw)
	}
	t, err := address.ParseType(addressType)
	if err != nil {
		return nil, err
	}
	switch t {
	case address.TypeIPv4Port, address.TypeIPv6Port:
		parsed, err := address.Parse(raw)
		if err != nil {
			return nil, err
		}
		host, port, _ := address.Fields(parsed)
		return address.New(t, host, port, "")
	default:
		return address.New(t, "", "", raw)
	}
}

// FromModel converts a routing model into its persisted record
func FromModel(m *domain.DomainRouting) *Record {
	enabled := m.Enabled
	r := &Record{
		Domain:         m.Domain,
		Enabled:        &enabled,
		RoutingMode:    m.RoutingMode.String(),
		DefaultBackend: m.DefaultBackend.String(),
		ACLRules:       make([]ACLRuleRecord, 0, len(m.ACLRules)),
		Backends:       make([]PoolRecord, 0, len(m.Backends)),
		SSL:            SSLRecord{Mode: m.SSL.Mode.String(), ForceHTTPS: m.SSL.ForceHTTPS},
	}
	if len(m.Aliases) > 0 {
		r.Aliases = append([]string(nil), m.Aliases...)
	}

	for _, rule := range m.ACLRules {
		r.ACLRules = append(r.ACLRules, ACLRuleRecord{
			Name:      rule.Name,
			Condition: rule.Condition.String(),
			Pattern:   rule.Pattern,
			Backend:   rule.Backend.String(),
		})
	}

	for _, pool := range m.Backends {
		pr := PoolRecord{
			Name:    pool.Name,
			Mode:    pool.Mode.String(),
			Balance: pool.Balance.String(),
			Options: OptionsRecord{
				HealthCheck:    pool.Options.HealthCheck,
				StickySession:  pool.Options.StickySession,
				Websocket:      pool.Options.Websocket,
				ForwardHeaders: pool.Options.ForwardHeaders,
			},
			Servers: make([]ServerRecord, 0, len(pool.Servers)),
		}
		for _, s := range pool.Servers {
			sr := ServerRecord{Name: s.Name, Address: s.ResolvedAddress(), Options: s.ExtraOptions}
			if s.Address != nil {
				sr.AddressType = string(s.Address.Type())
			}
			pr.Servers = append(pr.Servers, sr)
		}
		r.Backends = append(r.Backends, pr)
	}
	return r
}

func annotate(err error, key, value string) error {
	var rErr *lberrors.RoutingError
	if errors.As(err, &rErr) {
		rErr.WithMetadata(key, value)
	}
	return err
}
