package p2p

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// HostEntry pairs an Address with the Unix-second timestamp of the most
// recent positive evidence for it.
type HostEntry struct {
	Addr     Address
	LastSeen int64
}

// book is one colour's ordered, mutex-protected list of entries, kept
// sorted by LastSeen descending so index 0 is "most recent".
type book struct {
	mu      sync.RWMutex
	entries []HostEntry
	index   map[string]int // Addr.String() -> slice index, rebuilt on structural change
}

func newBook() *book {
	return &book{index: make(map[string]int)}
}

func (b *book) rebuildIndex() {
	for k := range b.index {
		delete(b.index, k)
	}
	for i, e := range b.entries {
		b.index[e.Addr.String()] = i
	}
}

func (b *book) sortLocked() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].LastSeen > b.entries[j].LastSeen
	})
	b.rebuildIndex()
}

// resizeLocked evicts the oldest entries (the tail, since entries are kept
// sorted descending) until len(entries) <= cap. cap == 0 means uncapped.
func (b *book) resizeLocked(cap int) {
	if cap <= 0 || len(b.entries) <= cap {
		return
	}
	b.entries = b.entries[:cap]
	b.rebuildIndex()
}

// Container holds the five colour books and every query/mutation operation
// spec.md §4.2 describes.
type Container struct {
	books [5]*book
}

// NewContainer creates an empty Container with all five books initialised.
func NewContainer() *Container {
	c := &Container{}
	for i := range c.books {
		c.books[i] = newBook()
	}
	return c
}

func (c *Container) book(color Color) *book { return c.books[color] }

// Store appends addr without deduplicating, then sorts and resizes.
func (c *Container) Store(color Color, addr Address, lastSeen int64) {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, HostEntry{Addr: addr, LastSeen: lastSeen})
	b.sortLocked()
	b.resizeLocked(color.cap())
}

// StoreOrUpdate upserts addr on its address key, then sorts and resizes.
func (c *Container) StoreOrUpdate(color Color, addr Address, lastSeen int64) {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[addr.String()]; ok {
		b.entries[i].LastSeen = lastSeen
	} else {
		b.entries = append(b.entries, HostEntry{Addr: addr, LastSeen: lastSeen})
	}
	b.sortLocked()
	b.resizeLocked(color.cap())
}

// RemoveIfExists removes addr from color if present, reporting whether it
// was removed.
func (c *Container) RemoveIfExists(color Color, addr Address) bool {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[addr.String()]
	if !ok {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.rebuildIndex()
	return true
}

// Contains reports whether addr is present in color.
func (c *Container) Contains(color Color, addr Address) bool {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[addr.String()]
	return ok
}

// GetIndexAtAddr returns addr's position within color's ordering.
func (c *Container) GetIndexAtAddr(color Color, addr Address) (int, bool) {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[addr.String()]
	return i, ok
}

// GetLastSeen returns addr's last-seen timestamp within color.
func (c *Container) GetLastSeen(color Color, addr Address) (int64, bool) {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[addr.String()]
	if !ok {
		return 0, false
	}
	return b.entries[i].LastSeen, true
}

// FetchAll returns a copy of every entry in color, most recent first.
func (c *Container) FetchAll(color Color) []HostEntry {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]HostEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// FetchLast returns the least-recently-seen entry in color.
func (c *Container) FetchLast(color Color) (HostEntry, bool) {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return HostEntry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// IsEmpty reports whether color has no entries.
func (c *Container) IsEmpty(color Color) bool {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries) == 0
}

// Len returns the number of entries in color.
func (c *Container) Len(color Color) int {
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func schemeSet(schemes []Scheme) map[Scheme]struct{} {
	m := make(map[Scheme]struct{}, len(schemes))
	for _, s := range schemes {
		m[s] = struct{}{}
	}
	return m
}

// FetchWithSchemes returns up to limit entries from color whose scheme is
// in schemes, most recent first. limit <= 0 means unbounded.
func (c *Container) FetchWithSchemes(color Color, schemes []Scheme, limit int) []HostEntry {
	want := schemeSet(schemes)
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []HostEntry
	for _, e := range b.entries {
		if _, ok := want[e.Addr.Scheme()]; ok {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// FetchExcludingSchemes is the complement of FetchWithSchemes: entries
// whose scheme is NOT in schemes.
func (c *Container) FetchExcludingSchemes(color Color, schemes []Scheme, limit int) []HostEntry {
	exclude := schemeSet(schemes)
	b := c.book(color)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []HostEntry
	for _, e := range b.entries {
		if _, ok := exclude[e.Addr.Scheme()]; !ok {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// FetchRandomWithSchemes picks one uniformly-random entry from color whose
// scheme is in schemes.
func (c *Container) FetchRandomWithSchemes(color Color, schemes []Scheme) (HostEntry, bool) {
	matches := c.FetchWithSchemes(color, schemes, 0)
	if len(matches) == 0 {
		return HostEntry{}, false
	}
	return matches[rand.IntN(len(matches))], true
}

// FetchNRandom samples up to n entries from color without replacement.
func (c *Container) FetchNRandom(color Color, n int) []HostEntry {
	all := c.FetchAll(color)
	return sampleWithoutReplacement(all, n)
}

// FetchNRandomWithSchemes samples up to n entries from color, restricted to
// schemes, without replacement.
func (c *Container) FetchNRandomWithSchemes(color Color, schemes []Scheme, n int) []HostEntry {
	matches := c.FetchWithSchemes(color, schemes, 0)
	return sampleWithoutReplacement(matches, n)
}

// FetchNRandomExcludingSchemes samples up to n entries from color,
// excluding schemes, without replacement.
func (c *Container) FetchNRandomExcludingSchemes(color Color, schemes []Scheme, n int) []HostEntry {
	matches := c.FetchExcludingSchemes(color, schemes, 0)
	return sampleWithoutReplacement(matches, n)
}

func sampleWithoutReplacement(pool []HostEntry, n int) []HostEntry {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}
	shuffled := make([]HostEntry, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// SortByLastSeen re-sorts color descending by LastSeen. Store/StoreOrUpdate
// already maintain this invariant; exposed for callers that mutate entries
// in place via a future extension point.
func (c *Container) SortByLastSeen(color Color) {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sortLocked()
}

// Resize evicts oldest entries from color until it is within its cap.
func (c *Container) Resize(color Color) {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resizeLocked(color.cap())
}

// Refresh prunes entries from color older than maxAge seconds, tolerating
// clock skew from the future by skipping entries whose LastSeen is after
// now (spec.md §4.2 "refresh").
func (c *Container) Refresh(color Color, maxAge int64, now int64) int {
	b := c.book(color)
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0:0]
	pruned := 0
	for _, e := range b.entries {
		if e.LastSeen <= now && now-e.LastSeen > maxAge {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	b.rebuildIndex()
	return pruned
}

// mixRule is one (requested, mixedVia) pair from spec.md §4.2 "Transport-
// mixing fetch" step 1: entries stored under mixedVia are copied out with
// their scheme rewritten to requested.
type mixRule struct {
	requested Scheme
	mixedVia  Scheme
}

var directMixRules = []mixRule{
	{SchemeTor, SchemeTCP},
	{SchemeTorTLS, SchemeTCPTLS},
	{SchemeNym, SchemeTCP},
	{SchemeNymTLS, SchemeTCPTLS},
}

// Fetch produces the candidate set for an outbound session, applying
// transport mixing per spec.md §4.2. torProxy/nymProxy are the configured
// SOCKS5 proxy Addresses, or the zero Address if not configured.
func (c *Container) Fetch(color Color, requested, mixed []Scheme, torProxy, nymProxy Address) []HostEntry {
	requestedSet := schemeSet(requested)
	mixedSet := schemeSet(mixed)

	var out []HostEntry

	// Step 1: direct scheme-rewrite mixing (tor/nym over tcp).
	for _, rule := range directMixRules {
		if _, reqOK := requestedSet[rule.requested]; !reqOK {
			continue
		}
		if _, mixOK := mixedSet[rule.mixedVia]; !mixOK {
			continue
		}
		for _, e := range c.FetchWithSchemes(color, []Scheme{rule.mixedVia}, 0) {
			out = append(out, HostEntry{Addr: e.Addr.WithScheme(rule.requested), LastSeen: e.LastSeen})
		}
	}

	// Step 2: SOCKS5 proxy mixing.
	out = append(out, c.fetchSocks5Mix(color, requestedSet, mixedSet, SchemeSocks5, SchemeTCP, torProxy, nymProxy, true, true)...)
	out = append(out, c.fetchSocks5Mix(color, requestedSet, mixedSet, SchemeSocks5TLS, SchemeTCPTLS, torProxy, nymProxy, true, true)...)
	out = append(out, c.fetchSocks5Mix(color, requestedSet, mixedSet, SchemeSocks5, SchemeTor, torProxy, nymProxy, true, false)...)
	out = append(out, c.fetchSocks5Mix(color, requestedSet, mixedSet, SchemeSocks5TLS, SchemeTorTLS, torProxy, nymProxy, true, false)...)

	// Step 3: remaining, unmixed schemes are appended verbatim.
	remaining := make([]Scheme, 0, len(requested))
	for _, s := range requested {
		if _, mixedOut := mixedSet[s]; !mixedOut {
			remaining = append(remaining, s)
		}
	}
	out = append(out, c.FetchWithSchemes(color, remaining, 0)...)

	return out
}

// fetchSocks5Mix implements one (proxied, mixedVia) pair of spec.md §4.2
// step 2. viaTor/viaNym select which configured proxies apply to this pair:
// the (socks5, tcp) and (socks5+tls, tcp+tls) pairs go via both proxies;
// the (socks5, tor) and (socks5+tls, tor+tls) pairs go via the tor proxy
// only.
func (c *Container) fetchSocks5Mix(color Color, requestedSet, mixedSet map[Scheme]struct{}, proxied, mixedVia Scheme, torProxy, nymProxy Address, viaTor, viaNym bool) []HostEntry {
	if _, ok := requestedSet[proxied]; !ok {
		return nil
	}
	if _, ok := mixedSet[mixedVia]; !ok {
		return nil
	}
	var out []HostEntry
	entries := c.FetchWithSchemes(color, []Scheme{mixedVia}, 0)
	if viaTor && !torProxy.IsZero() {
		for _, e := range entries {
			out = append(out, HostEntry{
				Addr:     torProxy.WithScheme(proxied).WithPath("/" + e.Addr.HostPort()),
				LastSeen: e.LastSeen,
			})
		}
	}
	if viaNym && !nymProxy.IsZero() {
		for _, e := range entries {
			out = append(out, HostEntry{
				Addr:     nymProxy.WithScheme(proxied).WithPath("/" + e.Addr.HostPort()),
				LastSeen: e.LastSeen,
			})
		}
	}
	return out
}
