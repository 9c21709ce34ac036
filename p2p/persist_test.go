package p2p

import (
	"testing"

	"github.com/nighthawk24/hostmesh/internal/testutil"
)

func TestSaveAllLoadAllRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	c := NewContainer()
	gold := MustAddress("tcp://198.51.100.1:9000")
	white := MustAddress("tcp://198.51.100.2:9000")
	grey := MustAddress("tcp://198.51.100.3:9000")
	c.StoreOrUpdate(Gold, gold, 100)
	c.StoreOrUpdate(White, white, 200)
	c.StoreOrUpdate(Grey, grey, 300)

	path := sb.Path("hosts.tsv")
	if err := c.SaveAll(path); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded := NewContainer()
	if err := loaded.LoadAll(path); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	for _, tc := range []struct {
		color Color
		addr  Address
	}{{Gold, gold}, {White, white}, {Grey, grey}} {
		if !loaded.Contains(tc.color, tc.addr) {
			t.Errorf("loaded container missing %s in %s", tc.addr, tc.color)
		}
	}
}

func TestSaveAllNeverPersistsBlack(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	c := NewContainer()
	banned := MustAddress("tcp://198.51.100.9:9000")
	c.StoreOrUpdate(Black, banned, 100)

	path := sb.Path("hosts.tsv")
	if err := c.SaveAll(path); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded := NewContainer()
	if err := loaded.LoadAll(path); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if loaded.Contains(Black, banned) {
		t.Fatal("Black entries must never round-trip through the hosts file")
	}
}

func TestLoadAllSkipsMalformedLines(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("hosts.tsv")
	good := MustAddress("tcp://198.51.100.1:9000")
	content := "not\tenough\n" +
		"grey\t" + good.String() + "\t100\n" +
		"unknown_color\ttcp://198.51.100.2:9000\t200\n"
	if err := sb.WriteFile("hosts.tsv", []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := NewContainer()
	if err := c.LoadAll(path); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if !c.Contains(Grey, good) {
		t.Fatal("well-formed line should have loaded despite malformed neighbours")
	}
}

func TestLoadAllMissingFileIsNotAnError(t *testing.T) {
	c := NewContainer()
	if err := c.LoadAll("/nonexistent/path/hosts.tsv"); err != nil {
		t.Fatalf("LoadAll on missing file: %v", err)
	}
}
