package p2p

import (
	"context"
	"math/rand/v2"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Manager is the gatekeeper through which every outbound connection, every
// inbound handshake, every gossip address and every blacklist rule passes.
// It wraps a Registry and a Container to enforce global policy and notify
// subscribers (spec.md §4.3).
type Manager struct {
	reg      *Registry
	cont     *Container
	settings *Settings
	log      *logrus.Entry

	goldLRU *lru.Cache[string, Address]
	auto    autoAddrRing
	metrics *Metrics

	storeEvents      *subject[StoreEvent]
	channelEvents    *subject[ChannelEvent]
	disconnectEvents *subject[DisconnectEvent]

	// SelfCheck, if set, reports whether addr resolves to this node's own
	// identity (e.g. the same libp2p peer id via a different address). It
	// is consulted by CheckAddrs (SPEC_FULL.md "SUPPLEMENTED FEATURES" #4).
	SelfCheck func(Address) bool
}

// NewManager builds a Manager from settings. log may be nil, in which case
// the standard logrus logger is used.
func NewManager(settings *Settings, log *logrus.Entry) (*Manager, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		reg:              NewRegistry(),
		cont:             NewContainer(),
		settings:         settings,
		log:              log,
		storeEvents:      newSubject[StoreEvent](),
		channelEvents:    newSubject[ChannelEvent](),
		disconnectEvents: newSubject[DisconnectEvent](),
	}
	if settings.GoldCap > 0 {
		cache, err := lru.NewWithEvict(settings.GoldCap, func(key string, addr Address) {
			m.cont.RemoveIfExists(Gold, addr)
		})
		if err != nil {
			return nil, err
		}
		m.goldLRU = cache
	}
	return m, nil
}

// AttachMetrics wires met into the manager so Insert, FilterAddresses and
// MoveHost report their counters to it. Pass nil to detach.
func (m *Manager) AttachMetrics(met *Metrics) {
	m.metrics = met
}

// Container exposes the underlying address books for read-mostly queries
// (fetch, contains) that don't need registry coordination.
func (m *Manager) Container() *Container { return m.cont }

// Registry exposes the underlying state machine for collaborators that
// need to inspect or release a claim directly (e.g. a session's deferred
// unregister on every exit path).
func (m *Manager) Registry() *Registry { return m.reg }

// Settings exposes the manager's policy configuration.
func (m *Manager) Settings() *Settings { return m.settings }

func (m *Manager) touchGold(addr Address) {
	if m.goldLRU != nil {
		m.goldLRU.Add(addr.String(), addr)
	}
}

// FilterAddresses applies spec.md §4.3's rejection clauses to candidates,
// returning only the survivors. Rejections are silent (logged at Warn/Debug
// level, never returned as an error): this is called once per address, the
// first time it is learned.
func (m *Manager) FilterAddresses(candidates []HostEntry) []HostEntry {
	out := make([]HostEntry, 0, len(candidates))
	for _, cand := range candidates {
		if m.filterOne(cand) {
			out = append(out, cand)
		} else if m.metrics != nil {
			m.metrics.RecordReject()
		}
	}
	return out
}

func (m *Manager) filterOne(cand HostEntry) bool {
	addr := cand.Addr
	if addr.IsZero() || addr.Host() == "" {
		m.log.Debugf("p2p: filter: rejecting address with no host: %q", addr)
		return false
	}
	if addr.Scheme() != SchemeUnix && addr.Port() == "" {
		m.log.Debugf("p2p: filter: rejecting address with no port: %s", addr)
		return false
	}
	if m.settings.IsSeed(addr) {
		return false
	}
	if m.settings.IsManualPeer(addr) {
		return false
	}
	if m.settings.BlockAllPorts(addr) {
		return false
	}
	localnet := m.settings.IsLocalnet()
	if !localnet && m.settings.IsExternal(addr.Host()) {
		return false
	}
	if localnet {
		for _, p := range m.settings.ExternalPorts() {
			if p == addr.Port() {
				return false
			}
		}
	}
	if !localnet && !IsGloballyReachable(addr.Host()) {
		return false
	}
	if err := addr.ValidateTransport(); err != nil {
		m.log.Warnf("p2p: filter: %v", err)
		return false
	}

	ip, isIP := addr.IP()
	ipv6Blocked := isIP && ip.To4() == nil && m.settings.IPv6Disabled()

	allowed := schemeIn(m.settings.AllowedTransportsSnapshot(), addr.Scheme())
	if !allowed || ipv6Blocked {
		m.cont.StoreOrUpdate(Dark, addr, cand.LastSeen)
		m.cont.SortByLastSeen(Dark)
		m.cont.Resize(Dark)
		if !schemeIn(m.settings.MixedTransportsSnapshot(), addr.Scheme()) {
			return false
		}
	}

	if m.cont.Contains(Gold, addr) || m.cont.Contains(White, addr) || m.cont.Contains(Grey, addr) {
		return false
	}
	return true
}

func schemeIn(schemes []Scheme, s Scheme) bool {
	for _, x := range schemes {
		if x == s {
			return true
		}
	}
	return false
}

// Insert filters candidates, claims Insert for each survivor, stores it
// into color, and notifies the store publisher with the entries actually
// inserted. Addresses already held by another worker are skipped rather
// than retried.
func (m *Manager) Insert(color Color, candidates []HostEntry) int {
	survivors := m.FilterAddresses(candidates)
	inserted := make([]HostEntry, 0, len(survivors))
	for _, s := range survivors {
		if err := m.reg.TryRegister(s.Addr, Insert); err != nil {
			continue
		}
		m.cont.StoreOrUpdate(color, s.Addr, s.LastSeen)
		m.cont.SortByLastSeen(color)
		m.cont.Resize(color)
		if color == Gold {
			m.touchGold(s.Addr)
		}
		m.reg.Unregister(s.Addr)
		inserted = append(inserted, s)
	}
	if len(inserted) > 0 {
		m.storeEvents.publish(StoreEvent{Color: color, Entries: inserted})
		if m.metrics != nil {
			m.metrics.RecordInsert(len(inserted))
		}
	}
	return len(inserted)
}

// MoveHost centralises every colour change (spec.md §4.3 "Promotion /
// demotion"). It claims Move and, on a completed move, leaves the address
// held in Move: callers are responsible for subsequently releasing it
// (typically via Unregister, GreylistHost and WhitelistHost do this for
// you).
func (m *Manager) MoveHost(addr Address, lastSeen int64, dest Color) error {
	if dest != Grey && dest != White && dest != Gold && dest != Black {
		return &ErrInvalidColor{Color: dest}
	}
	if err := m.reg.TryRegister(addr, Move); err != nil {
		return err
	}

	switch dest {
	case Grey:
		m.cont.RemoveIfExists(Gold, addr)
		m.cont.RemoveIfExists(White, addr)
		m.cont.StoreOrUpdate(Grey, addr, lastSeen)
		m.cont.SortByLastSeen(Grey)
		m.cont.Resize(Grey)
	case White:
		m.cont.RemoveIfExists(Grey, addr)
		m.cont.StoreOrUpdate(White, addr, lastSeen)
		m.cont.SortByLastSeen(White)
		m.cont.Resize(White)
	case Gold:
		m.cont.RemoveIfExists(Grey, addr)
		m.cont.RemoveIfExists(White, addr)
		m.cont.StoreOrUpdate(Gold, addr, lastSeen)
		m.cont.SortByLastSeen(Gold)
		m.touchGold(addr)
	case Black:
		_, isIP := addr.IP()
		local := isIP && !IsGloballyReachable(addr.Host())
		if local && !m.settings.IsLocalnet() {
			m.reg.Unregister(addr)
			return nil
		}
		m.cont.RemoveIfExists(Grey, addr)
		m.cont.RemoveIfExists(White, addr)
		m.cont.RemoveIfExists(Gold, addr)
		m.cont.StoreOrUpdate(Black, addr, lastSeen)
	}
	if m.metrics != nil {
		m.metrics.RecordMove(dest)
	}
	return nil
}

// GreylistHost demotes addr to Grey and releases its claim, the full
// move-then-free sequence spec.md §6 expects refinery/session callers to
// perform themselves.
func (m *Manager) GreylistHost(addr Address, lastSeen int64) error {
	if err := m.MoveHost(addr, lastSeen, Grey); err != nil {
		return err
	}
	m.reg.Unregister(addr)
	return nil
}

// WhitelistHost promotes addr to White and releases its claim.
func (m *Manager) WhitelistHost(addr Address, lastSeen int64) error {
	if err := m.MoveHost(addr, lastSeen, White); err != nil {
		return err
	}
	m.reg.Unregister(addr)
	return nil
}

// CheckAddrs iterates candidates and returns the first one that is not a
// configured seed, not one of our external addresses, not a self
// connection (if SelfCheck is set), and successfully claims Connect. This
// is how a session atomically reserves a peer for dialling.
func (m *Manager) CheckAddrs(candidates []Address) (Address, bool) {
	for _, addr := range candidates {
		if m.settings.IsSeed(addr) {
			continue
		}
		if m.settings.IsExternal(addr.Host()) {
			continue
		}
		if m.SelfCheck != nil && m.SelfCheck(addr) {
			continue
		}
		if err := m.reg.TryRegister(addr, Connect); err != nil {
			continue
		}
		return addr, true
	}
	return Address{}, false
}

// Refinable returns up to n Grey addresses eligible for refinery probing:
// not currently held by another worker, and not refined more recently than
// Settings.RefineInterval (SPEC_FULL.md "SUPPLEMENTED FEATURES" #1).
func (m *Manager) Refinable(n int) []Address {
	m.settings.mu.RLock()
	interval := m.settings.RefineInterval
	m.settings.mu.RUnlock()
	cutoff := time.Now().Add(-interval).Unix()

	all := m.cont.FetchAll(Grey) // most-recent-first
	out := make([]Address, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		e := all[i]
		if e.LastSeen > cutoff {
			continue
		}
		if _, held := m.reg.State(e.Addr); held {
			continue
		}
		out = append(out, e.Addr)
	}
	return out
}

// RegisterChannel claims Connected for addr with the given channel id and
// notifies the channel publisher of success.
func (m *Manager) RegisterChannel(addr Address, ch ChannelID) error {
	if err := m.reg.RegisterChannel(addr, ch); err != nil {
		m.channelEvents.publish(ChannelEvent{Addr: addr, Err: err})
		return err
	}
	m.channelEvents.publish(ChannelEvent{Addr: addr, Chan: ch})
	return nil
}

// ConnectFailed notifies the channel publisher that an outbound attempt on
// addr did not succeed, without ever claiming Connected.
func (m *Manager) ConnectFailed(addr Address, err error) {
	m.channelEvents.publish(ChannelEvent{Addr: addr, Err: err})
}

// Unregister releases addr back to Free. If it was Connected, the
// disconnect publisher is notified with err (which may be nil for a clean
// shutdown).
func (m *Manager) Unregister(addr Address, err error) {
	if ch, ok := m.reg.Channel(addr); ok {
		_ = ch
		m.disconnectEvents.publish(DisconnectEvent{Addr: addr, Err: err})
	}
	m.reg.Unregister(addr)
}

// Channels returns the channel ids of every currently Connected address.
func (m *Manager) Channels() []ChannelID {
	peers := m.reg.Connected()
	out := make([]ChannelID, len(peers))
	for i, p := range peers {
		out[i] = p.Channel
	}
	return out
}

// Peers returns every currently Connected address.
func (m *Manager) Peers() []Address {
	peers := m.reg.Connected()
	out := make([]Address, len(peers))
	for i, p := range peers {
		out[i] = p.Addr
	}
	return out
}

// RandomChannel returns a uniformly random Connected channel id.
func (m *Manager) RandomChannel() (ChannelID, bool) {
	peers := m.reg.Connected()
	if len(peers) == 0 {
		return 0, false
	}
	return peers[rand.IntN(len(peers))].Channel, true
}

// RecordAutoSelfAddr records a host a remote peer reported seeing us as,
// during a version handshake, into the auto-address ring buffer.
func (m *Manager) RecordAutoSelfAddr(host string) {
	m.auto.record(host)
}

// ExternalAddrs synthesises our externally-advertised addresses (spec.md
// §4.3 "External-address synthesis"): unspecified IPv6 hosts are patched to
// the most frequently auto-reported address, and port 0 is patched via
// lookupPort, an abstraction over the inbound listener table.
func (m *Manager) ExternalAddrs(lookupPort func() (string, bool)) []Address {
	m.settings.mu.RLock()
	raw := make([]Address, len(m.settings.ExternalAddrs))
	copy(raw, m.settings.ExternalAddrs)
	m.settings.mu.RUnlock()

	out := make([]Address, 0, len(raw))
	for _, addr := range raw {
		if addr.Host() == "::" {
			if best, ok := m.auto.mostFrequent(); ok {
				addr = addr.WithHost(best)
			}
		}
		if addr.Port() == "0" && lookupPort != nil {
			if port, ok := lookupPort(); ok {
				addr = addr.WithPort(port)
			}
		}
		out = append(out, addr)
	}
	return out
}

// SubscribeStore returns a channel of StoreEvent and a cancel function.
func (m *Manager) SubscribeStore() (<-chan StoreEvent, func()) {
	return m.storeEvents.subscribe(32)
}

// SubscribeChannel returns a channel of ChannelEvent and a cancel function.
func (m *Manager) SubscribeChannel() (<-chan ChannelEvent, func()) {
	return m.channelEvents.subscribe(32)
}

// SubscribeDisconnect returns a channel of DisconnectEvent and a cancel
// function.
func (m *Manager) SubscribeDisconnect() (<-chan DisconnectEvent, func()) {
	return m.disconnectEvents.subscribe(32)
}

// Run drives the manager's background maintenance (Free-slot sweeping and
// Dark ageing) until ctx is cancelled, then closes every publisher's
// subscription channels (spec.md §7).
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.storeEvents.closeAll()
			m.channelEvents.closeAll()
			m.disconnectEvents.closeAll()
			return
		case <-ticker.C:
			m.reg.Sweep(m.settings.FreeSweepAge)
			m.cont.Refresh(Dark, darkMaxAge, time.Now().Unix())
			if m.metrics != nil {
				m.metrics.Observe(m)
			}
		}
	}
}
