package p2p

import "testing"

func TestAutoAddrRingMostFrequent(t *testing.T) {
	var r autoAddrRing
	if _, ok := r.mostFrequent(); ok {
		t.Fatal("empty ring should report no most-frequent host")
	}
	r.record("203.0.113.5")
	r.record("203.0.113.6")
	r.record("203.0.113.5")

	host, ok := r.mostFrequent()
	if !ok || host != "203.0.113.5" {
		t.Fatalf("mostFrequent = %q, %v; want 203.0.113.5, true", host, ok)
	}
}

func TestAutoAddrRingEvictsOldest(t *testing.T) {
	var r autoAddrRing
	for i := 0; i < autoAddrRingCap; i++ {
		r.record("198.51.100.1")
	}
	r.record("198.51.100.2") // evicts one 198.51.100.1

	host, ok := r.mostFrequent()
	if !ok || host != "198.51.100.1" {
		t.Fatalf("mostFrequent = %q, %v; want 198.51.100.1 still dominant", host, ok)
	}
}
