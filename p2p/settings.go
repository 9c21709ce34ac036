package p2p

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BlacklistEntry bans a host, optionally scoped to specific schemes and
// ports. A host-only entry (no ports) matches every port on that host.
type BlacklistEntry struct {
	Host    string   `mapstructure:"host" yaml:"host"`
	Schemes []Scheme `mapstructure:"schemes" yaml:"schemes"`
	Ports   []string `mapstructure:"ports" yaml:"ports"`
}

// matches reports whether addr falls under this blacklist entry.
func (e BlacklistEntry) matches(addr Address) bool {
	if addr.Host() != e.Host {
		return false
	}
	if len(e.Schemes) > 0 {
		found := false
		for _, s := range e.Schemes {
			if s == addr.Scheme() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(e.Ports) == 0 {
		return true // host-only entry: matches every port
	}
	for _, p := range e.Ports {
		if p == addr.Port() {
			return true
		}
	}
	return false
}

// Settings holds the policy configuration the host manager reads (spec.md
// §6). It is held behind an RWMutex because seed/manual-peer/blacklist
// lists may be re-read from disk at runtime; acquiring it is the only
// suspension point besides publisher notify (spec.md §5).
type Settings struct {
	mu sync.RWMutex

	AllowedTransports []Scheme
	MixedTransports   []Scheme
	Seeds             []Address
	Peers             []Address
	ExternalAddrs     []Address
	Blacklist         []BlacklistEntry
	Localnet          bool
	MagicBytes        []byte

	// DisableIPv6 makes filtering store IPv6 literal addresses in Dark and
	// reject them, unless their scheme is also in MixedTransports.
	// Inferred from spec.md §4.3 clause 9 ("if IPv6 is disabled"), which is
	// not named in the explicit settings table.
	DisableIPv6 bool

	TorSocks5Proxy Address
	NymSocks5Proxy Address

	HostsFile string

	// RefineInterval is the cooldown between refinery probes of the same
	// Grey address (SUPPLEMENTED FEATURES #1 in SPEC_FULL.md).
	RefineInterval time.Duration

	// GoldCap bounds the Gold book via an LRU policy (SPEC_FULL.md's
	// decision on the "Gold unbounded" open question). Zero disables the
	// cap.
	GoldCap int

	// FreeSweepAge bounds how long a Free registry slot's bookkeeping is
	// retained (SPEC_FULL.md's decision on the "Free age field" open
	// question).
	FreeSweepAge time.Duration
}

// DefaultSettings returns a Settings with the defaults described in
// SPEC_FULL.md: clearnet-only transports, no mixing, a Gold LRU bound of
// 100,000 entries, a ten minute refine cooldown, and a one day free-slot
// sweep age.
func DefaultSettings() *Settings {
	return &Settings{
		AllowedTransports: []Scheme{SchemeTCP, SchemeTCPTLS},
		RefineInterval:    10 * time.Minute,
		GoldCap:           100000,
		FreeSweepAge:      24 * time.Hour,
	}
}

// IsSeed reports whether addr is a configured seed.
func (s *Settings) IsSeed(addr Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.Seeds {
		if a.String() == addr.String() {
			return true
		}
	}
	return false
}

// IsManualPeer reports whether addr is a configured manual peer.
func (s *Settings) IsManualPeer(addr Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.Peers {
		if a.String() == addr.String() {
			return true
		}
	}
	return false
}

// IsExternal reports whether host matches one of our own external
// addresses.
func (s *Settings) IsExternal(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.ExternalAddrs {
		if a.Host() == host {
			return true
		}
	}
	return false
}

// ExternalPorts returns the ports of our configured external addresses,
// used for localnet port filtering.
func (s *Settings) ExternalPorts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ports := make([]string, 0, len(s.ExternalAddrs))
	for _, a := range s.ExternalAddrs {
		if p := a.Port(); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}

// BlockAllPorts reports whether addr is banned by any Black-equivalent
// blacklist rule, host-matched regardless of port when the rule carries no
// port list (spec.md's S3 scenario).
func (s *Settings) BlockAllPorts(addr Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.Blacklist {
		if e.matches(addr) {
			return true
		}
	}
	return false
}

// AllowedTransportsSnapshot returns a copy of the allowed transport set.
func (s *Settings) AllowedTransportsSnapshot() []Scheme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scheme, len(s.AllowedTransports))
	copy(out, s.AllowedTransports)
	return out
}

// MixedTransportsSnapshot returns a copy of the mixed transport set.
func (s *Settings) MixedTransportsSnapshot() []Scheme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scheme, len(s.MixedTransports))
	copy(out, s.MixedTransports)
	return out
}

// IsLocalnet reports whether localnet mode is enabled.
func (s *Settings) IsLocalnet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Localnet
}

// IPv6Disabled reports whether IPv6 literal addresses are darklisted during
// filtering (see DisableIPv6).
func (s *Settings) IPv6Disabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DisableIPv6
}

// Proxies returns the configured tor/nym SOCKS5 proxy addresses.
func (s *Settings) Proxies() (tor, nym Address) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TorSocks5Proxy, s.NymSocks5Proxy
}

// ReloadBlacklist re-reads the blacklist from path, a YAML file of
// BlacklistEntry records, the same format the teacher uses for its own
// cmd/config/*.yaml files.
func (s *Settings) ReloadBlacklist(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("p2p: read blacklist %s: %w", path, err)
	}
	var entries []BlacklistEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("p2p: parse blacklist %s: %w", path, err)
	}
	s.mu.Lock()
	s.Blacklist = entries
	s.mu.Unlock()
	return nil
}

// LoadSettingsFromViper builds a Settings from a viper instance populated
// the way cmd/cli/network.go's netInit populates its own core.Config: keys
// under the "network." namespace.
func LoadSettingsFromViper(v *viper.Viper) (*Settings, error) {
	s := DefaultSettings()

	if raw := v.GetStringSlice("network.allowed_transports"); len(raw) > 0 {
		s.AllowedTransports = parseSchemes(raw)
	}
	s.MixedTransports = parseSchemes(v.GetStringSlice("network.mixed_transports"))

	var err error
	if s.Seeds, err = parseAddrList(v.GetStringSlice("network.seeds")); err != nil {
		return nil, err
	}
	if s.Peers, err = parseAddrList(v.GetStringSlice("network.peers")); err != nil {
		return nil, err
	}
	if s.ExternalAddrs, err = parseAddrList(v.GetStringSlice("network.external_addrs")); err != nil {
		return nil, err
	}

	if raw := v.GetString("network.tor_socks5_proxy"); raw != "" {
		if s.TorSocks5Proxy, err = ParseAddress(raw); err != nil {
			return nil, err
		}
	}
	if raw := v.GetString("network.nym_socks5_proxy"); raw != "" {
		if s.NymSocks5Proxy, err = ParseAddress(raw); err != nil {
			return nil, err
		}
	}

	s.Localnet = v.GetBool("network.localnet")
	s.DisableIPv6 = v.GetBool("network.disable_ipv6")
	s.MagicBytes = []byte(v.GetString("network.magic_bytes"))
	s.HostsFile = v.GetString("network.hosts_file")

	if path := v.GetString("network.blacklist"); path != "" {
		if err := s.ReloadBlacklist(path); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func parseSchemes(raw []string) []Scheme {
	out := make([]Scheme, 0, len(raw))
	for _, r := range raw {
		out = append(out, Scheme(r))
	}
	return out
}

func parseAddrList(raw []string) ([]Address, error) {
	out := make([]Address, 0, len(raw))
	for _, r := range raw {
		a, err := ParseAddress(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
