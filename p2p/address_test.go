package p2p

import "testing"

func TestParseAddressCanonicalForm(t *testing.T) {
	a, err := ParseAddress("tcp://EXAMPLE.com:9000/")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Scheme() != SchemeTCP {
		t.Fatalf("scheme = %q, want tcp", a.Scheme())
	}
	if a.Port() != "9000" {
		t.Fatalf("port = %q, want 9000", a.Port())
	}
}

func TestParseAddressRejectsUnknownScheme(t *testing.T) {
	if _, err := ParseAddress("ftp://example.com:21"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestParseAddressRejectsMissingHost(t *testing.T) {
	if _, err := ParseAddress("tcp://"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestValidateTransportOnion(t *testing.T) {
	// 56 base32 characters, the length of a real v3 onion service id.
	goodOnion := "aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dypsaijc.onion"
	a := MustAddress("tor://" + goodOnion + ":80")
	if err := a.ValidateTransport(); err != nil {
		t.Fatalf("expected valid onion-v3 address, got %v", err)
	}

	bad := MustAddress("tor://tooshort.onion:80")
	if err := bad.ValidateTransport(); err == nil {
		t.Fatal("expected error for short onion host")
	}
}

func TestValidateTransportI2P(t *testing.T) {
	// 52 base32 characters, the length of a real 32-byte destination digest.
	digest := "aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dypq"
	a := MustAddress("i2p://" + digest + ".b32.i2p:80")
	if err := a.ValidateTransport(); err != nil {
		t.Fatalf("expected valid i2p b32 address, got %v", err)
	}

	named := MustAddress("i2p://stats.i2p:80")
	if err := named.ValidateTransport(); err != nil {
		t.Fatalf("expected valid named i2p address, got %v", err)
	}
}

func TestIsGloballyReachable(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":     true,
		"10.0.0.1":    false,
		"127.0.0.1":   false,
		"192.168.1.1": false,
		"169.254.1.1": false,
		"::1":         false,
		"2001:db8::1": false,
		"2606:4700::": true,
		"example.com": true, // non-IP hosts are always reachable
	}
	for host, want := range cases {
		if got := IsGloballyReachable(host); got != want {
			t.Errorf("IsGloballyReachable(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestAddressWithHostPreservesPort(t *testing.T) {
	a := MustAddress("tcp://[::]:9000")
	b := a.WithHost("203.0.113.5")
	if b.Host() != "203.0.113.5" || b.Port() != "9000" {
		t.Fatalf("WithHost: got host=%q port=%q", b.Host(), b.Port())
	}
}

func TestAddressWithPort(t *testing.T) {
	a := MustAddress("tcp://198.51.100.2:0")
	b := a.WithPort("9001")
	if b.Port() != "9001" {
		t.Fatalf("WithPort: got port=%q, want 9001", b.Port())
	}
}
