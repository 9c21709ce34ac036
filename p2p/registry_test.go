package p2p

import (
	"testing"
	"time"
)

func TestRegistryTryRegisterFreeToInsert(t *testing.T) {
	r := NewRegistry()
	addr := MustAddress("tcp://198.51.100.1:9000")
	if err := r.TryRegister(addr, Insert); err != nil {
		t.Fatalf("Free -> Insert should succeed: %v", err)
	}
	if state, ok := r.State(addr); !ok || state != Insert {
		t.Fatalf("state = %v, %v; want Insert, true", state, ok)
	}
}

func TestRegistryBlocksConcurrentClaim(t *testing.T) {
	r := NewRegistry()
	addr := MustAddress("tcp://198.51.100.1:9000")
	if err := r.TryRegister(addr, Insert); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := r.TryRegister(addr, Connect)
	if err == nil {
		t.Fatal("expected second claim on an already-Insert address to be blocked")
	}
	var blocked *ErrStateBlocked
	if !asErrStateBlocked(err, &blocked) {
		t.Fatalf("expected *ErrStateBlocked, got %T: %v", err, err)
	}
	if blocked.From != Insert || blocked.To != Connect {
		t.Fatalf("blocked = %+v, want From=Insert To=Connect", blocked)
	}
}

func asErrStateBlocked(err error, target **ErrStateBlocked) bool {
	e, ok := err.(*ErrStateBlocked)
	if ok {
		*target = e
	}
	return ok
}

func TestRegistryUnregisterReturnsToFree(t *testing.T) {
	r := NewRegistry()
	addr := MustAddress("tcp://198.51.100.1:9000")
	_ = r.TryRegister(addr, Insert)
	r.Unregister(addr)
	if state, ok := r.State(addr); ok && state != Free {
		t.Fatalf("state after Unregister = %v, want Free or absent", state)
	}
	if err := r.TryRegister(addr, Insert); err != nil {
		t.Fatalf("Insert should be claimable again after Unregister: %v", err)
	}
}

func TestRegistryRegisterChannelAndConnected(t *testing.T) {
	r := NewRegistry()
	addr := MustAddress("tcp://198.51.100.1:9000")
	if err := r.RegisterChannel(addr, ChannelID(7)); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}
	peers := r.Connected()
	if len(peers) != 1 || peers[0].Addr.String() != addr.String() || peers[0].Channel != 7 {
		t.Fatalf("Connected() = %+v, want one entry for %s with channel 7", peers, addr)
	}
	ch, ok := r.Channel(addr)
	if !ok || ch != 7 {
		t.Fatalf("Channel() = %v, %v; want 7, true", ch, ok)
	}
}

// wantTransitionTable is a hand-transcribed copy of spec.md §4.1's
// authoritative from/to table, kept independent of p2p.transitionTable so
// this test catches a mistranscribed table instead of only restating it.
//
//	            Free  Insert Refine Connect Suspend Connected Move
var wantTransitionTable = [7][7]bool{
	/*Free*/ {true, true, true, true, false, true, true},
	/*Insert*/ {true, false, false, false, false, false, false},
	/*Refine*/ {true, false, false, false, false, true, true},
	/*Connect*/ {true, false, false, false, false, true, true},
	/*Suspend*/ {true, false, true, false, false, false, false},
	/*Connected*/ {true, false, false, false, false, false, true},
	/*Move*/ {true, false, false, false, true, true, false},
}

func TestRegistryFullTransitionTable(t *testing.T) {
	// Every (from, to) pair spec.md §4.1 documents as allowed must succeed;
	// every other pair must be blocked.
	for from := Free; from <= Move; from++ {
		for to := Free; to <= Move; to++ {
			r := NewRegistry()
			addr := MustAddress("tcp://198.51.100.1:9000")
			if from == Suspend {
				// Suspend is only reachable from Move.
				if err := r.TryRegister(addr, Move); err != nil {
					t.Fatalf("setup: Free -> Move failed: %v", err)
				}
			}
			if from != Free {
				if err := r.TryRegister(addr, from); err != nil {
					t.Fatalf("setup: -> %v failed: %v", from, err)
				}
			}
			err := r.TryRegister(addr, to)
			want := wantTransitionTable[from][to]
			got := err == nil
			if got != want {
				t.Errorf("%v -> %v: got allowed=%v, want %v (err=%v)", from, to, got, want, err)
			}
		}
	}
}

func TestRegistrySweepEvictsOldFreedSlots(t *testing.T) {
	r := NewRegistry()
	addr := MustAddress("tcp://198.51.100.1:9000")
	_ = r.TryRegister(addr, Insert)
	r.Unregister(addr)
	r.freed(addr, time.Now().Add(-2*time.Hour))

	n := r.Sweep(time.Hour)
	if n != 1 {
		t.Fatalf("Sweep evicted %d entries, want 1", n)
	}
	if n2 := r.Sweep(time.Hour); n2 != 0 {
		t.Fatalf("second Sweep evicted %d entries, want 0", n2)
	}
}
