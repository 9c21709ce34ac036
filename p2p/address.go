// Package p2p implements the host manager: the gatekeeper that discovers,
// scores, categorises, filters and safely hands out network peers across
// clearnet, Tor, I2P, Nym and SOCKS5-proxied transports.
package p2p

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/multiformats/go-base32"
)

// Scheme is the closed set of transports an Address may use.
type Scheme string

const (
	SchemeTCP       Scheme = "tcp"
	SchemeTCPTLS    Scheme = "tcp+tls"
	SchemeTor       Scheme = "tor"
	SchemeTorTLS    Scheme = "tor+tls"
	SchemeI2P       Scheme = "i2p"
	SchemeI2PTLS    Scheme = "i2p+tls"
	SchemeNym       Scheme = "nym"
	SchemeNymTLS    Scheme = "nym+tls"
	SchemeSocks5    Scheme = "socks5"
	SchemeSocks5TLS Scheme = "socks5+tls"
	SchemeUnix      Scheme = "unix"
)

var validSchemes = map[Scheme]struct{}{
	SchemeTCP: {}, SchemeTCPTLS: {}, SchemeTor: {}, SchemeTorTLS: {},
	SchemeI2P: {}, SchemeI2PTLS: {}, SchemeNym: {}, SchemeNymTLS: {},
	SchemeSocks5: {}, SchemeSocks5TLS: {}, SchemeUnix: {},
}

// Address is a parsed scheme://host[:port] value. Equality is byte-exact on
// the String() form. Parsing lowercases the scheme only: host case and any
// trailing path (such as "/") are kept, so inputs that differ in those
// compare unequal.
type Address struct {
	raw *url.URL
}

// ParseAddress parses s into an Address, rejecting anything that is not a
// well-formed scheme://host[:port] URL with a scheme from the closed set.
// It performs no scheme-specific structural validation (onion/i2p shape);
// that lives in the filter path, see ValidateTransport.
func ParseAddress(s string) (Address, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Address{}, &ErrMalformedAddress{Raw: s, Cause: err}
	}
	if u.Host == "" || u.Opaque != "" {
		return Address{}, &ErrMalformedAddress{Raw: s, Cause: fmt.Errorf("missing host or not a base URL")}
	}
	if _, ok := validSchemes[Scheme(u.Scheme)]; !ok {
		return Address{}, &ErrMalformedAddress{Raw: s, Cause: fmt.Errorf("unknown scheme %q", u.Scheme)}
	}
	return Address{raw: u}, nil
}

// MustAddress parses s and panics on error. Intended for tests and
// compile-time constants, never for untrusted input.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical form of the address.
func (a Address) String() string {
	if a.raw == nil {
		return ""
	}
	return a.raw.String()
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.raw == nil }

// Scheme returns the address's transport scheme.
func (a Address) Scheme() Scheme {
	if a.raw == nil {
		return ""
	}
	return Scheme(a.raw.Scheme)
}

// Host returns the hostname or IP literal, without port.
func (a Address) Host() string {
	if a.raw == nil {
		return ""
	}
	return a.raw.Hostname()
}

// Port returns the port, or "" if none was specified.
func (a Address) Port() string {
	if a.raw == nil {
		return ""
	}
	return a.raw.Port()
}

// HostPort returns "host:port", suitable for dialing or as a SOCKS5 target.
func (a Address) HostPort() string {
	if a.Port() == "" {
		return a.Host()
	}
	return net.JoinHostPort(a.Host(), a.Port())
}

// WithScheme returns a copy of a with its scheme replaced.
func (a Address) WithScheme(s Scheme) Address {
	if a.raw == nil {
		return a
	}
	cp := *a.raw
	cp.Scheme = string(s)
	return Address{raw: &cp}
}

// WithHost returns a copy of a with its host (keeping the existing port, if
// any) replaced.
func (a Address) WithHost(host string) Address {
	if a.raw == nil {
		return a
	}
	cp := *a.raw
	if p := a.Port(); p != "" {
		cp.Host = net.JoinHostPort(host, p)
	} else {
		cp.Host = host
	}
	return Address{raw: &cp}
}

// WithPort returns a copy of a with its port replaced.
func (a Address) WithPort(port string) Address {
	if a.raw == nil {
		return a
	}
	cp := *a.raw
	cp.Host = net.JoinHostPort(a.Host(), port)
	return Address{raw: &cp}
}

// WithPath returns a copy of a with its path replaced, used to encode a
// SOCKS5 proxy's dial target as the proxy URL's path segment.
func (a Address) WithPath(path string) Address {
	if a.raw == nil {
		return a
	}
	cp := *a.raw
	cp.Path = path
	return Address{raw: &cp}
}

// IP parses the host as an IP literal. The second return is false for
// hostnames (onion, i2p, DNS names) that are not IP literals.
func (a Address) IP() (net.IP, bool) {
	ip := net.ParseIP(a.Host())
	return ip, ip != nil
}

// ValidateTransport applies the scheme-specific structural checks from
// spec.md §4.3 clause 8. It returns a non-nil error naming why the address
// is structurally invalid for its declared scheme.
func (a Address) ValidateTransport() error {
	switch a.Scheme() {
	case SchemeTor, SchemeTorTLS:
		if !isOnionV3(a.Host()) {
			return &ErrMalformedAddress{Raw: a.String(), Cause: fmt.Errorf("not a valid onion-v3 service id")}
		}
	case SchemeNym, SchemeNymTLS:
		// Nym host validation is intentionally skipped (spec.md §4.3 clause 8).
	case SchemeI2P, SchemeI2PTLS:
		if !isI2PHost(a.Host()) {
			return &ErrMalformedAddress{Raw: a.String(), Cause: fmt.Errorf("not a valid .i2p host")}
		}
	case SchemeTCP, SchemeTCPTLS, SchemeSocks5, SchemeSocks5TLS, SchemeUnix:
		// No further structural check.
	default:
		return &ErrMalformedAddress{Raw: a.String(), Cause: fmt.Errorf("unknown scheme %q", a.Scheme())}
	}
	return nil
}

// onionV3Len is the length of a base32-encoded v3 onion service id, not
// counting the ".onion" suffix: 35 raw bytes (pubkey+checksum+version)
// encode to 56 base32 characters.
const onionV3Len = 56

func isOnionV3(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".onion")
	if len(host) != onionV3Len {
		return false
	}
	_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(host))
	return err == nil
}

// i2pB32Len is the length of a base32-encoded 32-byte destination digest
// used by I2P's ".b32.i2p" naming scheme.
const i2pB32Len = 52

func isI2PHost(host string) bool {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, ".i2p") {
		return false
	}
	label := strings.TrimSuffix(host, ".i2p")
	if strings.HasSuffix(label, ".b32") {
		digest := strings.TrimSuffix(label, ".b32")
		if len(digest) != i2pB32Len {
			return false
		}
		_, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(digest))
		return err == nil
	}
	return isDottedAlphaNumHyphen(label)
}

func isDottedAlphaNumHyphen(label string) bool {
	if label == "" {
		return false
	}
	for _, part := range strings.Split(label, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}

// IsGloballyReachable reports whether host (an IP literal) is outside the
// private/loopback/link-local/documentation ranges, using the extended IETF
// "globally reachable" definition for both IPv4 and IPv6 (spec.md §4.3
// clause 7). Non-IP hosts (onion, i2p, DNS names) are always considered
// globally reachable since the private-range check only applies to IPs.
func IsGloballyReachable(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	for _, block := range nonGlobalBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}

// nonGlobalBlocks enumerates the IPv4/IPv6 ranges excluded from the
// "globally reachable" set: loopback, link-local, private-use (RFC1918,
// RFC4193 ULA), documentation (RFC5737, RFC3849), and other special-purpose
// ranges from the IANA special-purpose address registries.
var nonGlobalBlocks = mustParseBlocks(
	// IPv4
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
	"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24",
	"192.88.99.0/24", "192.168.0.0/16", "198.18.0.0/15", "198.51.100.0/24",
	"203.0.113.0/24", "224.0.0.0/4", "240.0.0.0/4", "255.255.255.255/32",
	// IPv6
	// (IPv4-mapped "::ffff:a.b.c.d" literals parse as IPv4 and are checked
	// against the IPv4 blocks above.)
	"::1/128", "::/128", "64:ff9b::/96", "100::/64",
	"2001::/23", "2001:db8::/32", "2002::/16", "fc00::/7", "fe80::/10",
	"ff00::/8",
)

func mustParseBlocks(cidrs ...string) []*net.IPNet {
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, n)
	}
	return blocks
}
