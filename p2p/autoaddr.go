package p2p

import "sync"

// autoAddrRingCap is the capacity of the auto-self-address ring buffer
// (spec.md §4.3 "External-address synthesis").
const autoAddrRingCap = 20

// autoAddrRing records the IPv6 addresses remote peers have reported seeing
// us as, during version handshakes, and reports the most frequent one so
// an unspecified "[::]" external address can be patched to a real value.
type autoAddrRing struct {
	mu   sync.Mutex
	buf  [autoAddrRingCap]string
	next int
	size int
}

// record appends host to the ring, evicting the oldest entry once full.
func (r *autoAddrRing) record(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = host
	r.next = (r.next + 1) % autoAddrRingCap
	if r.size < autoAddrRingCap {
		r.size++
	}
}

// mostFrequent returns the most common non-empty host currently in the
// ring. The second return is false if the ring is empty.
func (r *autoAddrRing) mostFrequent() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, r.size)
	for i := 0; i < r.size; i++ {
		if h := r.buf[i]; h != "" {
			counts[h]++
		}
	}
	best := ""
	bestCount := 0
	for h, n := range counts {
		if n > bestCount {
			best, bestCount = h, n
		}
	}
	return best, bestCount > 0
}
