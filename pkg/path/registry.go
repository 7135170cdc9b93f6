package path

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
)

// Registry is the concurrency-safe store of every guard the algorithm has
// ever sampled, keyed by relay fingerprint. It is the Guard Registry of the
// selection algorithm's component design: the Controller and Session read
// and mutate it, but never hold its lock across a collaborator call.
type Registry struct {
	guards *xsync.Map[string, *Guard]
}

// NewRegistry creates an empty guard registry.
func NewRegistry() *Registry {
	return &Registry{
		guards: xsync.NewMap[string, *Guard](),
	}
}

// Get returns the guard record for a fingerprint, if known.
func (r *Registry) Get(fingerprint string) (*Guard, bool) {
	return r.guards.Load(fingerprint)
}

// GetOrCreate returns the existing guard for fingerprint, or inserts and
// returns a freshly-sampled one built from relay via factory.
func (r *Registry) GetOrCreate(fingerprint string, factory func() *Guard) *Guard {
	result, _ := r.guards.Compute(fingerprint, func(current *Guard, loaded bool) (*Guard, xsync.ComputeOp) {
		if loaded {
			return current, xsync.CancelOp
		}
		return factory(), xsync.UpdateOp
	})
	return result
}

// Put inserts or overwrites a guard record.
func (r *Registry) Put(g *Guard) {
	r.guards.Store(g.Fingerprint, g)
}

// Delete removes a guard record entirely.
func (r *Registry) Delete(fingerprint string) {
	r.guards.Delete(fingerprint)
}

// Len returns the number of guards currently tracked.
func (r *Registry) Len() int {
	return r.guards.Size()
}

// Range iterates every tracked guard. fn returning false stops iteration
// early, matching xsync.Map's Range semantics.
func (r *Registry) Range(fn func(g *Guard) bool) {
	r.guards.Range(func(_ string, g *Guard) bool {
		return fn(g)
	})
}

// MarkAllUnlisted flags every currently tracked guard as unlisted. Called
// before reconciling against a fresh consensus so that relays missing from
// the new consensus end up correctly marked, then re-listed for any that
// are still present.
func (r *Registry) MarkAllUnlisted() {
	r.guards.Range(func(_ string, g *Guard) bool {
		g.MarkUnlisted()
		return true
	})
}

// ReconcileConsensus updates Listed/Bandwidth/address fields for every
// known guard against a fresh consensus, and returns the subset of relays
// that are new (not yet tracked at all).
func (r *Registry) ReconcileConsensus(relays []*directory.Relay) []*directory.Relay {
	byFingerprint := make(map[string]*directory.Relay, len(relays))
	for _, relay := range relays {
		byFingerprint[relay.Fingerprint] = relay
	}

	var fresh []*directory.Relay
	for _, relay := range relays {
		if g, ok := r.guards.Load(relay.Fingerprint); ok {
			g.Listed = true
			g.Bandwidth = relay.Bandwidth
			g.Address = relay.Address
			g.ORPort = relay.ORPort
			continue
		}
		fresh = append(fresh, relay)
	}

	return fresh
}
