// Package compiler renders validated routing models into HAProxy
// configuration text.
//
// Every domain compiles to a set of backend sections plus the lines it
// contributes to the shared frontends:
//
//	fe_http   plain HTTP listener, Host based dispatch
//	fe_tls    TCP listener on the TLS port, SNI based split between
//	          passthrough backends and the terminating listener
//	fe_https  TLS terminating listener bound to an abstract socket that
//	          fe_tls forwards to with the PROXY protocol
//
// Section and ACL names are built from the canonical hostname with ':' as the
// separator. Hostnames and pool names never contain ':' and hostnames never
// contain '_', so names of different domains cannot collide.
//
// Compilation is a pure function of the model and the options: the same input
// always yields byte-identical text.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/validation"
)

const component = "compiler"

const indent = "    "

// TerminateBackend is the shared backend that hands TLS connections from
// fe_tls to fe_https
const TerminateBackend = "be_tls_terminate"

// SystemBackend describes where the host's built-in web server listens
type SystemBackend struct {
	HTTPAddress  string
	HTTPSAddress string
}

// Options are the environment specific settings of the generated config
type Options struct {
	System          SystemBackend
	HTTPBind        string
	TLSBind         string
	CertDir         string
	TerminateSocket string
	// Preamble is emitted verbatim before the first section (global and
	// defaults blocks)
	Preamble string
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		System:          SystemBackend{HTTPAddress: "127.0.0.1:8080", HTTPSAddress: "127.0.0.1:8443"},
		HTTPBind:        ":80",
		TLSBind:         ":443",
		CertDir:         "/etc/haproxy/certs",
		TerminateSocket: "abns@https-terminate",
	}
}

// Output is the compiled form of one domain
type Output struct {
	Domain string
	// Backends are complete backend sections in emission order
	Backends []string
	// HTTP, HTTPS and TLS are the lines this domain adds to fe_http,
	// fe_https and fe_tls
	HTTP  []string
	HTTPS []string
	TLS   []string
	// Terminates is set when fe_tls must forward this domain to fe_https
	Terminates bool
	// Hosts are the hostnames this domain answers for; Sections the names
	// of its backend sections
	Hosts    []string
	Sections []string
}

// Empty reports whether the domain contributes nothing
func (o *Output) Empty() bool {
	return len(o.Backends) == 0 && len(o.HTTP) == 0 && len(o.HTTPS) == 0 && len(o.TLS) == 0
}

// Text renders the output of a single domain for previews and diffs
func (o *Output) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# domain %s\n", o.Domain)
	for _, section := range o.Backends {
		b.WriteString("\n")
		b.WriteString(section)
	}
	writeFragment(&b, "fe_http", o.HTTP)
	writeFragment(&b, "fe_https", o.HTTPS)
	writeFragment(&b, "fe_tls", o.TLS)
	return b.String()
}

func writeFragment(b *strings.Builder, frontend string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n# %s\n", frontend)
	for _, line := range lines {
		b.WriteString(indent + line + "\n")
	}
}

// Compile renders m. The model is validated first; reaching the compiler with
// an invalid model is a programming error and reported as COMPILE_FAILED.
// Disabled domains compile to an empty output.
func Compile(m *domain.DomainRouting, opts Options) (*Output, error) {
	if errs := validation.Validate(m); len(errs) > 0 {
		return nil, lberrors.NewErrorWithCause(
			lberrors.ErrCodeCompileFailed,
			component,
			"refusing to compile a model that failed validation",
			errs,
		).WithMetadata("domain", domainName(m))
	}

	out := &Output{Domain: m.Domain}
	if !m.Enabled {
		return out, nil
	}

	c := &compilation{m: m, opts: opts, id: hostID(m.Domain), out: out}
	if err := c.run(); err != nil {
		return nil, err
	}
	out.Hosts = m.Hostnames()
	out.Sections = c.sections
	return out, nil
}

type compilation struct {
	m    *domain.DomainRouting
	opts Options
	id   string
	out  *Output

	// section names already emitted, in order
	sections []string
}

func (c *compilation) run() error {
	for _, pool := range c.m.Backends {
		if err := c.addSection(c.poolSection(pool.Name), renderPool(c.poolSection(pool.Name), pool, pool.Mode)); err != nil {
			return err
		}
	}
	if c.referencesSystem() {
		if err := c.addSystemSection(c.systemSection(), c.opts.System.HTTPAddress, domain.ModeHTTP); err != nil {
			return err
		}
	}

	hostACL := "host:" + c.id
	dispatch := c.dispatchLines(hostACL)

	switch c.m.SSL.Mode {
	case domain.SSLNone:
		c.out.HTTP = dispatch

	case domain.SSLTermination:
		c.out.HTTP = c.plainLines(hostACL, dispatch)
		c.out.HTTPS = dispatch
		c.out.Terminates = true
		sni := "sni:" + c.id
		c.out.TLS = append(sniACLs(sni, c.m.Hostnames()), fmt.Sprintf("use_backend %s if %s", TerminateBackend, sni))

	case domain.SSLPassthrough:
		target, err := c.passthroughTarget()
		if err != nil {
			return err
		}
		if c.defaultIsTCP() {
			c.out.HTTP = append(hostACLs(hostACL, c.m.Hostnames()), redirectLine(hostACL))
		} else {
			c.out.HTTP = c.plainLines(hostACL, dispatch)
		}
		sni := "sni:" + c.id
		c.out.TLS = append(sniACLs(sni, c.m.Hostnames()), fmt.Sprintf("use_backend %s if %s", target, sni))

	default:
		return internalError(c.m, "unsupported SSL mode %q", c.m.SSL.Mode)
	}
	return nil
}

// plainLines is the fe_http contribution of a TLS enabled domain
func (c *compilation) plainLines(hostACL string, dispatch []string) []string {
	if !c.m.SSL.ForceHTTPS {
		return dispatch
	}
	return append(hostACLs(hostACL, c.m.Hostnames()), redirectLine(hostACL))
}

func redirectLine(hostACL string) string {
	return fmt.Sprintf("http-request redirect scheme https code 301 if %s", hostACL)
}

// dispatchLines expresses the routing mode, the ACL rules in order and the
// default fallback for an HTTP frontend.
func (c *compilation) dispatchLines(hostACL string) []string {
	lines := hostACLs(hostACL, c.m.Hostnames())

	if c.m.RoutingMode == domain.RoutingAdvanced {
		for _, rule := range c.m.ACLRules {
			name := c.ruleACL(rule.Name)
			lines = append(lines, fmt.Sprintf("acl %s %s %s", name, rule.Condition.String(), escapePattern(rule.Pattern)))
		}
		for _, rule := range c.m.ACLRules {
			name := c.ruleACL(rule.Name)
			lines = append(lines, fmt.Sprintf("use_backend %s if %s %s", c.sectionFor(rule.Backend), hostACL, name))
		}
	}

	return append(lines, fmt.Sprintf("use_backend %s if %s", c.sectionFor(c.m.DefaultBackend), hostACL))
}

// passthroughTarget returns the backend that receives undecrypted TLS. A TCP
// default pool is used as-is; anything else gets a TCP twin.
func (c *compilation) passthroughTarget() (string, error) {
	ref := c.m.DefaultBackend
	if ref.IsSystem() {
		name := c.systemSection() + ":tls"
		if err := c.addSystemSection(name, c.opts.System.HTTPSAddress, domain.ModeTCP); err != nil {
			return "", err
		}
		return name, nil
	}

	pool, _ := c.m.Pool(ref.Name())
	if pool.Mode == domain.ModeTCP {
		return c.poolSection(pool.Name), nil
	}

	name := c.poolSection(pool.Name) + ":tls"
	if err := c.addSection(name, renderPool(name, *pool, domain.ModeTCP)); err != nil {
		return "", err
	}
	return name, nil
}

func (c *compilation) defaultIsTCP() bool {
	if c.m.DefaultBackend.IsSystem() {
		return false
	}
	pool, ok := c.m.Pool(c.m.DefaultBackend.Name())
	return ok && pool.Mode == domain.ModeTCP
}

func (c *compilation) referencesSystem() bool {
	if c.m.SSL.Mode == domain.SSLPassthrough && c.defaultIsTCP() {
		return false
	}
	if c.m.DefaultBackend.IsSystem() {
		return true
	}
	if c.m.RoutingMode != domain.RoutingAdvanced {
		return false
	}
	for _, rule := range c.m.ACLRules {
		if rule.Backend.IsSystem() {
			return true
		}
	}
	return false
}

func (c *compilation) addSystemSection(name, addr string, mode domain.PoolMode) error {
	if strings.TrimSpace(addr) == "" {
		return internalError(c.m, "system backend address for %s traffic is not configured", mode)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s\n", name)
	fmt.Fprintf(&b, "%smode %s\n", indent, mode)
	if mode == domain.ModeHTTP {
		b.WriteString(indent + "option forwardfor\n")
		b.WriteString(indent + forwardedProto + "\n")
	}
	fmt.Fprintf(&b, "%sserver system %s\n", indent, addr)
	return c.addSection(name, b.String())
}

func (c *compilation) addSection(name, text string) error {
	for _, existing := range c.sections {
		if existing == name {
			return internalError(c.m, "backend section name %q is generated twice", name)
		}
	}
	c.sections = append(c.sections, name)
	c.out.Backends = append(c.out.Backends, text)
	return nil
}

func (c *compilation) poolSection(pool string) string {
	return c.id + ":" + pool
}

func (c *compilation) systemSection() string {
	return c.id + ":" + domain.SystemBackendName
}

func (c *compilation) ruleACL(rule string) string {
	return "rule:" + c.id + ":" + rule
}

func (c *compilation) sectionFor(ref domain.BackendRef) string {
	if ref.IsSystem() {
		return c.systemSection()
	}
	return c.poolSection(ref.Name())
}

const forwardedProto = "http-request set-header X-Forwarded-Proto %[ssl_fc,iif(https,http)]"

// renderPool writes a backend section for pool in the given mode. The mode
// differs from pool.Mode only for passthrough twins.
func renderPool(name string, pool domain.BackendPool, mode domain.PoolMode) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		b.WriteString(indent)
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "backend %s\n", name)
	line("mode %s", mode)
	line("balance %s", pool.Balance)

	opts := pool.Options
	if opts.HealthCheck {
		if mode == domain.ModeHTTP {
			line("option httpchk")
		} else {
			line("option tcp-check")
		}
	}
	if opts.StickySession {
		if mode == domain.ModeHTTP {
			line("cookie SERVERID insert indirect nocache")
		} else {
			line("stick-table type ip size 200k expire 30m")
			line("stick on src")
		}
	}
	if opts.Websocket && mode == domain.ModeHTTP {
		line("timeout tunnel 1h")
	}
	if opts.ForwardHeaders && mode == domain.ModeHTTP {
		line("option forwardfor")
		line("%s", forwardedProto)
	}

	for _, s := range pool.Servers {
		parts := []string{"server", s.Name, s.ResolvedAddress()}
		if opts.HealthCheck {
			parts = append(parts, "check")
		}
		if opts.StickySession && mode == domain.ModeHTTP {
			parts = append(parts, "cookie", s.Name)
		}
		if s.ExtraOptions != "" {
			parts = append(parts, s.ExtraOptions)
		}
		line("%s", strings.Join(parts, " "))
	}
	return b.String()
}

// hostACLs matches the Host header against the domain and its aliases.
// Wildcard names become suffix matches.
func hostACLs(name string, hosts []string) []string {
	return splitHosts(hosts,
		func(exact []string) string {
			return fmt.Sprintf("acl %s req.hdr(host),field(1,:) -i %s", name, strings.Join(exact, " "))
		},
		func(suffixes []string) string {
			return fmt.Sprintf("acl %s req.hdr(host),field(1,:) -m end -i %s", name, strings.Join(suffixes, " "))
		},
	)
}

// sniACLs matches the TLS server name against the domain and its aliases
func sniACLs(name string, hosts []string) []string {
	return splitHosts(hosts,
		func(exact []string) string {
			return fmt.Sprintf("acl %s req.ssl_sni -i %s", name, strings.Join(exact, " "))
		},
		func(suffixes []string) string {
			return fmt.Sprintf("acl %s req.ssl_sni -m end -i %s", name, strings.Join(suffixes, " "))
		},
	)
}

func splitHosts(hosts []string, exactLine, suffixLine func([]string) string) []string {
	var exact, suffixes []string
	for _, h := range hosts {
		if strings.HasPrefix(h, "*.") {
			suffixes = append(suffixes, h[1:])
		} else {
			exact = append(exact, h)
		}
	}
	var lines []string
	if len(exact) > 0 {
		lines = append(lines, exactLine(exact))
	}
	if len(suffixes) > 0 {
		lines = append(lines, suffixLine(suffixes))
	}
	return lines
}

func escapePattern(p string) string {
	return strings.NewReplacer(`\`, `\\`, " ", `\ `, "#", `\#`).Replace(p)
}

// hostID is the canonical hostname as used in section and ACL names. The
// wildcard label becomes "_wildcard", which no hostname can contain.
func hostID(host string) string {
	if strings.HasPrefix(host, "*.") {
		return "_wildcard." + host[2:]
	}
	return host
}

func domainName(m *domain.DomainRouting) string {
	if m == nil {
		return ""
	}
	return m.Domain
}

func internalError(m *domain.DomainRouting, format string, args ...interface{}) error {
	return lberrors.NewError(lberrors.ErrCodeCompileFailed, component, fmt.Sprintf(format, args...)).
		WithMetadata("domain", domainName(m))
}

// Assemble merges per-domain outputs into one configuration file. Outputs are
// ordered by domain so the result does not depend on the order given. A
// hostname or backend section claimed by more than one domain is
// COMPILE_FAILED.
func Assemble(outputs []*Output, opts Options) (string, error) {
	sorted := make([]*Output, 0, len(outputs))
	for _, o := range outputs {
		if o != nil && !o.Empty() {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Domain < sorted[j].Domain })
	if err := checkClaims(sorted); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Generated by domain-router. Manual edits are overwritten.\n")
	if p := strings.TrimRight(opts.Preamble, "\n"); p != "" {
		b.WriteString("\n" + p + "\n")
	}

	var http, https, tls []string
	terminates := false
	for _, o := range sorted {
		http = appendDomainBlock(http, o.Domain, o.HTTP)
		https = appendDomainBlock(https, o.Domain, o.HTTPS)
		tls = appendDomainBlock(tls, o.Domain, o.TLS)
		terminates = terminates || o.Terminates
	}

	b.WriteString("\nfrontend fe_http\n")
	b.WriteString(indent + "mode http\n")
	fmt.Fprintf(&b, "%sbind %s\n", indent, opts.HTTPBind)
	writeLines(&b, http)

	if len(tls) > 0 {
		b.WriteString("\nfrontend fe_tls\n")
		b.WriteString(indent + "mode tcp\n")
		fmt.Fprintf(&b, "%sbind %s\n", indent, opts.TLSBind)
		b.WriteString(indent + "tcp-request inspect-delay 5s\n")
		b.WriteString(indent + "tcp-request content accept if { req.ssl_hello_type 1 }\n")
		writeLines(&b, tls)
	}

	if terminates {
		b.WriteString("\nfrontend fe_https\n")
		b.WriteString(indent + "mode http\n")
		fmt.Fprintf(&b, "%sbind %s accept-proxy ssl crt %s\n", indent, opts.TerminateSocket, opts.CertDir)
		writeLines(&b, https)

		fmt.Fprintf(&b, "\nbackend %s\n", TerminateBackend)
		b.WriteString(indent + "mode tcp\n")
		fmt.Fprintf(&b, "%sserver fe_https %s send-proxy-v2\n", indent, opts.TerminateSocket)
	}

	for _, o := range sorted {
		for _, section := range o.Backends {
			b.WriteString("\n")
			b.WriteString(section)
		}
	}
	return b.String(), nil
}

// checkClaims rejects outputs that share a hostname or a section name
func checkClaims(outputs []*Output) error {
	hosts := make(map[string]string)
	sections := make(map[string]string)
	for _, o := range outputs {
		for _, h := range o.Hosts {
			if owner, ok := hosts[h]; ok {
				return conflictError("hostname", h, owner, o.Domain)
			}
			hosts[h] = o.Domain
		}
		for _, name := range o.Sections {
			if owner, ok := sections[name]; ok {
				return conflictError("backend section", name, owner, o.Domain)
			}
			sections[name] = o.Domain
		}
	}
	return nil
}

func conflictError(kind, name, first, second string) error {
	return lberrors.NewError(lberrors.ErrCodeCompileFailed, component,
		fmt.Sprintf("%s %q is claimed by more than one domain", kind, name)).
		WithMetadata("name", name).
		WithMetadata("domains", []string{first, second})
}

func appendDomainBlock(lines []string, host string, block []string) []string {
	if len(block) == 0 {
		return lines
	}
	lines = append(lines, "# "+host)
	return append(lines, block...)
}

func writeLines(b *strings.Builder, lines []string) {
	for _, line := range lines {
		b.WriteString(indent + line + "\n")
	}
}
