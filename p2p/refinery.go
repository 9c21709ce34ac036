package p2p

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe attempts to confirm that addr is live, returning true on success.
// A real implementation dials addr and performs a version handshake;
// tests supply a stub.
type Probe func(ctx context.Context, addr Address) bool

// Refinery periodically walks the Grey book and promotes or demotes
// addresses based on Probe's verdict (spec.md §4.1's Refine state; the
// cooldown gate itself lives in Manager.Refinable, SPEC_FULL.md
// "SUPPLEMENTED FEATURES" #1).
type Refinery struct {
	mgr      *Manager
	probe    Probe
	batch    int
	interval time.Duration
	log      *logrus.Entry
}

// NewRefinery builds a Refinery that probes up to batch addresses every
// interval.
func NewRefinery(mgr *Manager, probe Probe, batch int, interval time.Duration, log *logrus.Entry) *Refinery {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Refinery{mgr: mgr, probe: probe, batch: batch, interval: interval, log: log}
}

// Run drives the refinery loop until ctx is cancelled.
func (r *Refinery) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refinery) tick(ctx context.Context) {
	candidates := r.mgr.Refinable(r.batch)
	for _, addr := range candidates {
		if err := r.mgr.Registry().TryRegister(addr, Refine); err != nil {
			continue
		}
		ok := r.probe(ctx, addr)
		now := time.Now().Unix()
		if ok {
			if err := r.mgr.WhitelistHost(addr, now); err != nil {
				r.log.Warnf("p2p: refinery: whitelist %s: %v", addr, err)
				r.mgr.Registry().Unregister(addr)
			}
			continue
		}
		if err := r.mgr.GreylistHost(addr, now); err != nil {
			r.log.Warnf("p2p: refinery: greylist %s: %v", addr, err)
			r.mgr.Registry().Unregister(addr)
		}
	}
}
