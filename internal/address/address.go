// Package address builds canonical backend server addresses from typed,
// operator-supplied address descriptions.
package address

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	lberrors "github.com/mir00r/domain-router/internal/errors"
)

const component = "address"

const (
	unixPrefix     = "unix@"
	abstractPrefix = "abns@"
)

// Type identifies which address variant a server uses
type Type string

const (
	TypeIPv4Port           Type = "ipv4"
	TypeIPv6Port           Type = "ipv6"
	TypeUnixSocket         Type = "unix"
	TypeUnixSocketPrefixed Type = "unix_prefixed"
	TypeAbstractSocket     Type = "abstract"
)

// ParseType parses a persisted address type token
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeIPv4Port, TypeIPv6Port, TypeUnixSocket, TypeUnixSocketPrefixed, TypeAbstractSocket:
		return t, nil
	default:
		return "", lberrors.NewInvalidFieldError(component, "addressType", s)
	}
}

// Address is one of IPv4Port, IPv6Port, UnixSocket, PrefixedUnixSocket or
// AbstractSocket.
type Address interface {
	Type() Type
	resolve() (string, error)
}

// IPv4Port is a host name or IPv4 address plus a TCP port
type IPv4Port struct {
	Host string
	Port string
}

// IPv6Port is an IPv6 address, bracketed or not, plus a TCP port
type IPv6Port struct {
	Host string
	Port string
}

// UnixSocket is a filesystem socket path used as-is
type UnixSocket struct {
	Path string
}

// PrefixedUnixSocket is a filesystem socket path written with the unix@ prefix
type PrefixedUnixSocket struct {
	Path string
}

// AbstractSocket is a Linux abstract namespace socket name
type AbstractSocket struct {
	Name string
}

func (IPv4Port) Type() Type           { return TypeIPv4Port }
func (IPv6Port) Type() Type           { return TypeIPv6Port }
func (UnixSocket) Type() Type         { return TypeUnixSocket }
func (PrefixedUnixSocket) Type() Type { return TypeUnixSocketPrefixed }
func (AbstractSocket) Type() Type     { return TypeAbstractSocket }

func (a IPv4Port) resolve() (string, error) {
	host, port, err := hostPort(a.Host, a.Port)
	if err != nil {
		return "", err
	}
	return host + ":" + port, nil
}

// resolve accepts the host with or without brackets; it must be an IPv6
// literal.
func (a IPv6Port) resolve() (string, error) {
	host, port, err := hostPort(strings.Trim(strings.TrimSpace(a.Host), "[]"), a.Port)
	if err != nil {
		return "", err
	}
	if ip, err := netip.ParseAddr(host); err != nil || !ip.Is6() {
		return "", lberrors.NewInvalidFieldError(component, "host", a.Host)
	}
	return "[" + host + "]:" + port, nil
}

func (a UnixSocket) resolve() (string, error) {
	path := strings.TrimSpace(a.Path)
	if path == "" {
		return "", lberrors.NewMissingFieldError(component, "socket")
	}
	return path, nil
}

func (a PrefixedUnixSocket) resolve() (string, error) {
	path := strings.TrimPrefix(strings.TrimSpace(a.Path), unixPrefix)
	if path == "" {
		return "", lberrors.NewMissingFieldError(component, "socket")
	}
	return unixPrefix + path, nil
}

func (a AbstractSocket) resolve() (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(a.Name), abstractPrefix)
	if name == "" {
		return "", lberrors.NewMissingFieldError(component, "socket")
	}
	return abstractPrefix + name, nil
}

func hostPort(host, port string) (string, string, error) {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	if host == "" {
		return "", "", lberrors.NewMissingFieldError(component, "host")
	}
	if port == "" {
		return "", "", lberrors.NewMissingFieldError(component, "port")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", "", lberrors.NewInvalidFieldError(component, "port", port)
	}
	return host, strconv.Itoa(n), nil
}

// Resolve returns the canonical address string for a. It never performs I/O,
// so it can back a client-side preview before a server is added to a pool.
func Resolve(a Address) (string, error) {
	if a == nil {
		return "", lberrors.NewMissingFieldError(component, "address")
	}
	return a.resolve()
}

// New builds the variant selected by t from raw form fields. Fields that do
// not belong to the selected variant are ignored.
func New(t Type, host, port, path string) (Address, error) {
	switch t {
	case TypeIPv4Port:
		return IPv4Port{Host: host, Port: port}, nil
	case TypeIPv6Port:
		return IPv6Port{Host: host, Port: port}, nil
	case TypeUnixSocket:
		return UnixSocket{Path: path}, nil
	case TypeUnixSocketPrefixed:
		return PrefixedUnixSocket{Path: path}, nil
	case TypeAbstractSocket:
		return AbstractSocket{Name: path}, nil
	default:
		return nil, lberrors.NewInvalidFieldError(component, "addressType", string(t))
	}
}

// Parse infers the variant from a canonical address string such as
// "127.0.0.1:3000", "[::1]:3000", "/run/app.sock", "unix@/run/app.sock" or
// "abns@app".
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, lberrors.NewMissingFieldError(component, "address")
	case strings.HasPrefix(s, unixPrefix):
		return PrefixedUnixSocket{Path: strings.TrimPrefix(s, unixPrefix)}, nil
	case strings.HasPrefix(s, abstractPrefix):
		return AbstractSocket{Name: strings.TrimPrefix(s, abstractPrefix)}, nil
	case strings.HasPrefix(s, "/"):
		return UnixSocket{Path: s}, nil
	case strings.HasPrefix(s, "["):
		end := strings.LastIndex(s, "]")
		if end < 0 || !strings.HasPrefix(s[end+1:], ":") {
			return nil, lberrors.NewInvalidFieldError(component, "address", s)
		}
		return IPv6Port{Host: s[1:end], Port: s[end+2:]}, nil
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return nil, lberrors.NewMissingFieldError(component, "port")
	}
	host, port := s[:idx], s[idx+1:]
	if strings.Contains(host, ":") {
		return IPv6Port{Host: host, Port: port}, nil
	}
	return IPv4Port{Host: host, Port: port}, nil
}

// Fields splits an address back into the raw form fields accepted by New.
func Fields(a Address) (host, port, path string) {
	switch v := a.(type) {
	case IPv4Port:
		return v.Host, v.Port, ""
	case IPv6Port:
		return strings.TrimSuffix(strings.TrimPrefix(v.Host, "["), "]"), v.Port, ""
	case UnixSocket:
		return "", "", v.Path
	case PrefixedUnixSocket:
		return "", "", strings.TrimPrefix(v.Path, unixPrefix)
	case AbstractSocket:
		return "", "", strings.TrimPrefix(v.Name, abstractPrefix)
	default:
		return "", "", ""
	}
}

// String renders a for logs; unresolvable addresses are shown with their type.
func String(a Address) string {
	s, err := Resolve(a)
	if err != nil {
		if a == nil {
			return "<nil>"
		}
		return fmt.Sprintf("<invalid %s>", a.Type())
	}
	return s
}
