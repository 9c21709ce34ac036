package p2p

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer connects to an Address, routing socks5/socks5+tls schemes through
// a SOCKS5 proxy, tcp/tcp+tls through a direct TCP dial and unix through a
// unix-socket dial; any other scheme is an error. It generalises
// core.Dialer, which only ever dials "tcp".
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer creates a new network dialer with the given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to addr and returns a net.Conn. Onion/I2P/Nym schemes are
// only reachable via a socks5 proxy address (see Container.Fetch, which
// rewrites them into one); dialling one of those schemes directly is a
// programmer error.
func (d *Dialer) Dial(ctx context.Context, addr Address) (net.Conn, error) {
	base := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}

	switch addr.Scheme() {
	case SchemeTCP, SchemeTCPTLS, SchemeUnix:
		network := "tcp"
		target := addr.HostPort()
		if addr.Scheme() == SchemeUnix {
			network = "unix"
			target = addr.Host()
		}
		conn, err := base.DialContext(ctx, network, target)
		if err != nil {
			return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
		}
		return conn, nil

	case SchemeSocks5, SchemeSocks5TLS:
		target := strings.TrimPrefix(addr.raw.Path, "/")
		if target == "" {
			return nil, fmt.Errorf("p2p: dial %s: socks5 address carries no proxy target", addr)
		}
		dialer, err := proxy.SOCKS5("tcp", addr.HostPort(), nil, base)
		if err != nil {
			return nil, fmt.Errorf("p2p: build socks5 dialer for %s: %w", addr, err)
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			conn, err := dialer.Dial("tcp", target)
			if err != nil {
				return nil, fmt.Errorf("p2p: socks5 dial %s via %s: %w", target, addr, err)
			}
			return conn, nil
		}
		conn, err := ctxDialer.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, fmt.Errorf("p2p: socks5 dial %s via %s: %w", target, addr, err)
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("p2p: dial %s: scheme %q is not directly dialable", addr, addr.Scheme())
	}
}
