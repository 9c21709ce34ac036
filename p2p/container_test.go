package p2p

import "testing"

func TestContainerStoreOrUpdateUpserts(t *testing.T) {
	c := NewContainer()
	addr := MustAddress("tcp://198.51.100.1:9000")
	c.StoreOrUpdate(Grey, addr, 100)
	c.StoreOrUpdate(Grey, addr, 200)
	if c.Len(Grey) != 1 {
		t.Fatalf("Len(Grey) = %d, want 1 (upsert, not duplicate)", c.Len(Grey))
	}
	seen, ok := c.GetLastSeen(Grey, addr)
	if !ok || seen != 200 {
		t.Fatalf("GetLastSeen = %d, %v; want 200, true", seen, ok)
	}
}

func TestContainerSortedMostRecentFirst(t *testing.T) {
	c := NewContainer()
	older := MustAddress("tcp://198.51.100.1:9000")
	newer := MustAddress("tcp://198.51.100.2:9000")
	c.StoreOrUpdate(Grey, older, 100)
	c.StoreOrUpdate(Grey, newer, 200)

	all := c.FetchAll(Grey)
	if len(all) != 2 || all[0].Addr.String() != newer.String() {
		t.Fatalf("FetchAll = %+v, want newer first", all)
	}
}

func TestContainerResizeEvictsOldest(t *testing.T) {
	c := NewContainer()
	for i := 0; i < 2100; i++ {
		addr := MustAddress("tcp://198.51.100." + itoaMod(i) + ":" + itoaMod(i/254))
		c.StoreOrUpdate(Grey, addr, int64(i))
	}
	if got := c.Len(Grey); got != Grey.cap() {
		t.Fatalf("Len(Grey) = %d, want cap %d", got, Grey.cap())
	}
}

// itoaMod renders i in 1..254 range to keep generated IPs valid octets,
// only used to produce distinct test addresses.
func itoaMod(i int) string {
	digits := "0123456789"
	n := (i % 254) + 1
	if n < 10 {
		return string(digits[n])
	}
	s := ""
	for n > 0 {
		s = string(digits[n%10]) + s
		n /= 10
	}
	return s
}

func TestContainerFetchWithSchemes(t *testing.T) {
	c := NewContainer()
	tcpAddr := MustAddress("tcp://198.51.100.1:9000")
	torAddr := MustAddress("tor://aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dypsaijc.onion:9000")
	c.StoreOrUpdate(White, tcpAddr, 100)
	c.StoreOrUpdate(White, torAddr, 200)

	got := c.FetchWithSchemes(White, []Scheme{SchemeTCP}, 0)
	if len(got) != 1 || got[0].Addr.String() != tcpAddr.String() {
		t.Fatalf("FetchWithSchemes(tcp) = %+v, want only tcpAddr", got)
	}

	excl := c.FetchExcludingSchemes(White, []Scheme{SchemeTCP}, 0)
	if len(excl) != 1 || excl[0].Addr.String() != torAddr.String() {
		t.Fatalf("FetchExcludingSchemes(tcp) = %+v, want only torAddr", excl)
	}
}

func TestContainerFetchDirectMix(t *testing.T) {
	c := NewContainer()
	tcpAddr := MustAddress("tcp://198.51.100.1:9000")
	c.StoreOrUpdate(Grey, tcpAddr, 100)

	out := c.Fetch(Grey, []Scheme{SchemeTor}, []Scheme{SchemeTCP}, Address{}, Address{})
	if len(out) != 1 {
		t.Fatalf("Fetch = %+v, want one rewritten tor entry", out)
	}
	if out[0].Addr.Scheme() != SchemeTor {
		t.Fatalf("Fetch[0].Scheme = %q, want tor", out[0].Addr.Scheme())
	}
	if out[0].Addr.HostPort() != tcpAddr.HostPort() {
		t.Fatalf("Fetch[0] host:port = %q, want %q", out[0].Addr.HostPort(), tcpAddr.HostPort())
	}
}

func TestContainerFetchSocks5Mix(t *testing.T) {
	c := NewContainer()
	tcpAddr := MustAddress("tcp://198.51.100.1:9000")
	c.StoreOrUpdate(Grey, tcpAddr, 100)
	torProxy := MustAddress("tcp://127.0.0.1:9050")

	out := c.Fetch(Grey, []Scheme{SchemeSocks5}, []Scheme{SchemeTCP}, torProxy, Address{})
	if len(out) != 1 {
		t.Fatalf("Fetch = %+v, want one socks5-proxied entry", out)
	}
	if out[0].Addr.Scheme() != SchemeSocks5 {
		t.Fatalf("Fetch[0].Scheme = %q, want socks5", out[0].Addr.Scheme())
	}
	if out[0].Addr.HostPort() != torProxy.HostPort() {
		t.Fatalf("Fetch[0] host:port = %q, want proxy %q", out[0].Addr.HostPort(), torProxy.HostPort())
	}
}

func TestContainerFetchNoTCPLeaksWhenMixed(t *testing.T) {
	c := NewContainer()
	tcpAddr := MustAddress("tcp://198.51.100.1:9000")
	c.StoreOrUpdate(Grey, tcpAddr, 100)

	out := c.Fetch(Grey, []Scheme{SchemeTor}, []Scheme{SchemeTCP}, Address{}, Address{})
	for _, e := range out {
		if e.Addr.Scheme() == SchemeTCP {
			t.Fatalf("Fetch leaked a tcp-scheme entry when tcp is mixed away: %+v", e)
		}
	}
}

func TestContainerRefreshPrunesOldEntries(t *testing.T) {
	c := NewContainer()
	old := MustAddress("tcp://198.51.100.1:9000")
	fresh := MustAddress("tcp://198.51.100.2:9000")
	now := int64(1_000_000)
	c.StoreOrUpdate(Dark, old, now-darkMaxAge-1)
	c.StoreOrUpdate(Dark, fresh, now)

	pruned := c.Refresh(Dark, darkMaxAge, now)
	if pruned != 1 {
		t.Fatalf("Refresh pruned %d, want 1", pruned)
	}
	if c.Contains(Dark, old) {
		t.Fatal("old entry should have been pruned")
	}
	if !c.Contains(Dark, fresh) {
		t.Fatal("fresh entry should have survived")
	}
}
