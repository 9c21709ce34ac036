package p2p

import "testing"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultSettings(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestFilterAddressesRejectsSeed(t *testing.T) {
	m := newTestManager(t)
	seed := MustAddress("tcp://198.51.100.1:9000")
	m.Settings().Seeds = []Address{seed}

	out := m.FilterAddresses([]HostEntry{{Addr: seed, LastSeen: 1}})
	if len(out) != 0 {
		t.Fatalf("FilterAddresses = %+v, want seed rejected", out)
	}
}

func TestFilterAddressesRejectsNonGlobal(t *testing.T) {
	m := newTestManager(t)
	local := MustAddress("tcp://10.0.0.5:9000")

	out := m.FilterAddresses([]HostEntry{{Addr: local, LastSeen: 1}})
	if len(out) != 0 {
		t.Fatalf("FilterAddresses = %+v, want non-global address rejected", out)
	}
}

func TestFilterAddressesAllowsLocalnetException(t *testing.T) {
	m := newTestManager(t)
	m.Settings().Localnet = true
	local := MustAddress("tcp://10.0.0.5:9000")

	out := m.FilterAddresses([]HostEntry{{Addr: local, LastSeen: 1}})
	if len(out) != 1 {
		t.Fatalf("FilterAddresses = %+v, want localnet address allowed", out)
	}
}

func TestFilterAddressesDarklistsIPv6WhenDisabled(t *testing.T) {
	m := newTestManager(t)
	m.Settings().DisableIPv6 = true
	addr := MustAddress("tcp://[2606:4700::1]:9000")

	out := m.FilterAddresses([]HostEntry{{Addr: addr, LastSeen: 5}})
	if len(out) != 0 {
		t.Fatalf("FilterAddresses = %+v, want IPv6 address rejected", out)
	}
	if !m.Container().Contains(Dark, addr) {
		t.Fatal("IPv6-disabled address should still be stored in Dark (spec.md §4.3 clause 9)")
	}
}

func TestFilterAddressesAllowsDarklistedIPv6WhenMixed(t *testing.T) {
	m := newTestManager(t)
	m.Settings().DisableIPv6 = true
	m.Settings().MixedTransports = []Scheme{SchemeTCP}
	addr := MustAddress("tcp://[2606:4700::2]:9000")

	out := m.FilterAddresses([]HostEntry{{Addr: addr, LastSeen: 5}})
	if len(out) != 1 {
		t.Fatalf("FilterAddresses = %+v, want IPv6 address surviving via mixed_transports", out)
	}
	if !m.Container().Contains(Dark, addr) {
		t.Fatal("address should also be darklisted even though it survives filtering")
	}
}

func TestFilterAddressesRejectsAlreadyKnown(t *testing.T) {
	m := newTestManager(t)
	addr := MustAddress("tcp://8.8.4.4:9000")
	m.Container().StoreOrUpdate(White, addr, 1)

	out := m.FilterAddresses([]HostEntry{{Addr: addr, LastSeen: 2}})
	if len(out) != 0 {
		t.Fatalf("FilterAddresses = %+v, want already-known address rejected", out)
	}
}

func TestInsertPublishesStoreEvent(t *testing.T) {
	m := newTestManager(t)
	addr := MustAddress("tcp://8.8.8.8:9000")
	ch, cancel := m.SubscribeStore()
	defer cancel()

	n := m.Insert(Grey, []HostEntry{{Addr: addr, LastSeen: 1}})
	if n != 1 {
		t.Fatalf("Insert returned %d, want 1", n)
	}
	select {
	case ev := <-ch:
		if ev.Color != Grey || len(ev.Entries) != 1 || ev.Entries[0].Addr.String() != addr.String() {
			t.Fatalf("unexpected store event: %+v", ev)
		}
	default:
		t.Fatal("expected a store event to be published")
	}
	if state, ok := m.Registry().State(addr); ok && state != Free {
		t.Fatalf("address should be released back to Free after Insert, got %v", state)
	}
}

func TestMoveHostRejectsDark(t *testing.T) {
	m := newTestManager(t)
	addr := MustAddress("tcp://198.51.100.9:9000")
	if err := m.MoveHost(addr, 1, Dark); err == nil {
		t.Fatal("expected MoveHost to Dark to be rejected")
	}
}

func TestGreylistHostReleasesClaim(t *testing.T) {
	m := newTestManager(t)
	addr := MustAddress("tcp://198.51.100.10:9000")
	m.Container().StoreOrUpdate(White, addr, 1)

	if err := m.GreylistHost(addr, 2); err != nil {
		t.Fatalf("GreylistHost: %v", err)
	}
	if !m.Container().Contains(Grey, addr) {
		t.Fatal("address should now be in Grey")
	}
	if m.Container().Contains(White, addr) {
		t.Fatal("address should have been removed from White")
	}
	if state, ok := m.Registry().State(addr); ok && state != Free {
		t.Fatalf("GreylistHost should release the claim, got state %v", state)
	}
}

func TestCheckAddrsSkipsSeedsAndSelf(t *testing.T) {
	m := newTestManager(t)
	seed := MustAddress("tcp://198.51.100.1:9000")
	self := MustAddress("tcp://198.51.100.2:9000")
	candidate := MustAddress("tcp://198.51.100.3:9000")
	m.Settings().Seeds = []Address{seed}
	m.SelfCheck = func(a Address) bool { return a.String() == self.String() }

	got, ok := m.CheckAddrs([]Address{seed, self, candidate})
	if !ok || got.String() != candidate.String() {
		t.Fatalf("CheckAddrs = %v, %v; want candidate, true", got, ok)
	}
	if state, ok := m.Registry().State(candidate); !ok || state != Connect {
		t.Fatalf("CheckAddrs should claim Connect on the returned address, got %v, %v", state, ok)
	}
}

func TestRefinableExcludesHeldAddresses(t *testing.T) {
	m := newTestManager(t)
	held := MustAddress("tcp://198.51.100.20:9000")
	free := MustAddress("tcp://198.51.100.21:9000")
	m.Container().StoreOrUpdate(Grey, held, 1)
	m.Container().StoreOrUpdate(Grey, free, 1)
	if err := m.Registry().TryRegister(held, Refine); err != nil {
		t.Fatalf("setup claim: %v", err)
	}

	out := m.Refinable(10)
	for _, a := range out {
		if a.String() == held.String() {
			t.Fatalf("Refinable returned an address already held: %v", out)
		}
	}
	found := false
	for _, a := range out {
		if a.String() == free.String() {
			found = true
		}
	}
	if !found {
		t.Fatalf("Refinable should include the unheld address, got %v", out)
	}
}
