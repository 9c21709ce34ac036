package p2p

import (
	"sync"
	"time"
)

// State is the per-address slot held in the Registry. It is the sole
// arbiter of who may act on an address at any moment.
type State int

const (
	// Free is the implicit state of any address absent from the registry.
	Free State = iota
	Insert
	Refine
	Connect
	Suspend
	Connected
	Move
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Insert:
		return "Insert"
	case Refine:
		return "Refine"
	case Connect:
		return "Connect"
	case Suspend:
		return "Suspend"
	case Connected:
		return "Connected"
	case Move:
		return "Move"
	default:
		return "Unknown"
	}
}

// ChannelID is an opaque handle to the transport channel backing a
// Connected state, so disconnect notifications can find their way back to
// the right session without the registry depending on any transport type.
type ChannelID uint64

// slot is the registry's bookkeeping for one held address: its current
// state and the channel backing a Connected state (if any). Release times
// used by Sweep are kept separately in Registry.freedSlots.
type slot struct {
	addr    Address
	state   State
	channel ChannelID
}

// ConnectedPeer pairs a Connected address with the channel backing it, the
// element type returned by Registry.Connected.
type ConnectedPeer struct {
	Addr    Address
	Channel ChannelID
}

// transitionTable[from][to] mirrors spec.md §4.1's authoritative table.
// Row/column order matches the State const iota order above.
var transitionTable = [7][7]bool{
	//             Free  Insert Refine Connect Suspend Connected Move
	/*Free*/ {true, true, true, true, false, true, true},
	/*Insert*/ {true, false, false, false, false, false, false},
	/*Refine*/ {true, false, false, false, false, true, true},
	/*Connect*/ {true, false, false, false, false, true, true},
	/*Suspend*/ {true, false, true, false, false, false, false},
	/*Connected*/ {true, false, false, false, false, false, true},
	/*Move*/ {true, false, false, false, true, true, false},
}

// Registry is the per-address state machine protecting races between
// concurrent workers. All transitions are O(1) map operations under a
// single short-held mutex; no await/suspension may occur while it is held.
type Registry struct {
	mu         sync.Mutex
	slots      map[string]*slot
	freedSlots map[string]time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:      make(map[string]*slot),
		freedSlots: make(map[string]time.Time),
	}
}

// TryRegister attempts to move addr from its current state (Free if absent)
// to `to`. On success the address is held in `to` until a subsequent
// TryRegister or Unregister call. On failure it returns *ErrStateBlocked
// naming the blocked from/to pair; the address's state is left unchanged.
func (r *Registry) TryRegister(addr Address, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	from := Free
	if s, ok := r.slots[key]; ok {
		from = s.state
	}
	if !transitionTable[from][to] {
		return &ErrStateBlocked{Addr: addr, From: from, To: to}
	}
	r.slots[key] = &slot{addr: addr, state: to}
	return nil
}

// RegisterChannel is a convenience for transitioning to Connected while
// recording the channel id that backs it.
func (r *Registry) RegisterChannel(addr Address, ch ChannelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	from := Free
	if s, ok := r.slots[key]; ok {
		from = s.state
	}
	if !transitionTable[from][Connected] {
		return &ErrStateBlocked{Addr: addr, From: from, To: Connected}
	}
	r.slots[key] = &slot{addr: addr, state: Connected, channel: ch}
	return nil
}

// Connected returns every address currently in the Connected state along
// with its channel id.
func (r *Registry) Connected() []ConnectedPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectedPeer, 0)
	for _, s := range r.slots {
		if s.state == Connected {
			out = append(out, ConnectedPeer{Addr: s.addr, Channel: s.channel})
		}
	}
	return out
}

// Channel returns the channel id registered for addr, if it is Connected.
func (r *Registry) Channel(addr Address) (ChannelID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[addr.String()]
	if !ok || s.state != Connected {
		return 0, false
	}
	return s.channel, true
}

// State returns the current state of addr. The second return is false if
// the address has no entry, which means Free; Unregister deletes the entry,
// so a released address also reports (Free, false).
func (r *Registry) State(addr Address) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[addr.String()]
	if !ok {
		return Free, false
	}
	return s.state, true
}

// Unregister releases addr back to Free, stamping the time of release so a
// later Sweep can evict long-idle slots. It is always legal: Free is
// reachable from every state in the transition table.
func (r *Registry) Unregister(addr Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, addr.String())
	r.freed(addr, time.Now())
}

// freed records addr's release time in freedSlots, tracked separately from
// slots so an absent key in slots keeps meaning Free for State/TryRegister.
func (r *Registry) freed(addr Address, at time.Time) {
	r.freedSlots[addr.String()] = at
}

// Sweep deletes bookkeeping for addresses that have been Free for longer
// than maxAge, bounding the registry's long-run memory use (spec.md §9
// "Open question — Free age field"). It does not affect addresses
// currently held in a non-Free state.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for k, t := range r.freedSlots {
		if t.Before(cutoff) {
			delete(r.freedSlots, k)
			n++
		}
	}
	return n
}
