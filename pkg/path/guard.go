package path

import (
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
)

// Guard is the persistent record the selection algorithm keeps for a single
// relay it has considered as an entry guard. It mirrors the per-guard fields
// of proposal 259's guard state: whether the guard is still listed in the
// latest consensus, whether it has ever completed a circuit (madeContact),
// whether it is currently marked bad, and the bookkeeping needed to decide
// when it is eligible for another connection attempt.
type Guard struct {
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname"`
	Address     string `json:"address"`
	ORPort      int    `json:"or_port"`
	Bandwidth   int64  `json:"bandwidth"`

	// Dystopic is true if this guard was sampled into the dystopic set
	// (reachable only via commodity ports 80/443) rather than the utopic
	// set (reachable via its advertised ORPort on the open network).
	Dystopic bool `json:"dystopic"`

	// AddedAt is when this guard was first sampled.
	AddedAt time.Time `json:"added_at"`

	// Listed is false once the guard drops out of the consensus; an
	// unlisted guard is never selected but is retained for a grace period
	// so a transient consensus hiccup does not immediately evict it.
	Listed bool `json:"listed"`

	// MadeContact is true once a circuit has ever been successfully
	// extended through this guard. An unconfirmed guard that fails an
	// attempt is removed from usedGuards (Controller.RegisterConnectStatus);
	// its record stays in the registry and the sampled sets.
	MadeContact bool `json:"made_contact"`

	// Bad marks a guard the algorithm has decided to stop using (e.g. it
	// dropped out of the consensus). BadSince records when.
	Bad      bool      `json:"bad"`
	BadSince time.Time `json:"bad_since,omitempty"`

	// LastTried is the timestamp of the most recent connection attempt,
	// successful or not.
	LastTried time.Time `json:"last_tried,omitempty"`

	// UnreachableSince is non-zero while the guard is believed down: set
	// on the first failed attempt after a success (or ever), cleared on
	// the next success. A non-zero value is what makes the guard
	// retry-ineligible until the retry interval, counted from this
	// timestamp, has elapsed (or CanRetry overrides it).
	UnreachableSince time.Time `json:"unreachable_since,omitempty"`

	// CanRetry is a one-shot override set by the selection algorithm (the
	// §4.3.2 preemption gate, TRY_DYSTOPIC exhaustion, or RETRY_ONLY on
	// first entry) to force a
	// guard to be tried once regardless of its UnreachableSince window.
	// Consumed by the next MarkAttempted call, success or failure.
	CanRetry bool `json:"can_retry,omitempty"`
}

// newGuardFromRelay builds a fresh, never-tried Guard record from a
// consensus relay entry.
func newGuardFromRelay(r *directory.Relay, dystopic bool, addedAt time.Time) *Guard {
	return &Guard{
		Fingerprint: r.Fingerprint,
		Nickname:    r.Nickname,
		Address:     r.Address,
		ORPort:      r.ORPort,
		Bandwidth:   r.Bandwidth,
		Dystopic:    dystopic,
		AddedAt:     addedAt,
		Listed:      true,
	}
}

// IsReachableEligible reports whether this guard may currently be tried
// again. The retry model is a flat boolean window rather than Tor's
// original progressive entry_is_live/entry_is_time_to_retry backoff: a
// guard that has never failed, or whose first failure since its last
// success (UnreachableSince) is at least retryInterval old, is eligible.
func (g *Guard) IsReachableEligible(now time.Time, retryInterval time.Duration) bool {
	if g.UnreachableSince.IsZero() {
		return true
	}
	return now.Sub(g.UnreachableSince) >= retryInterval
}

// RetryEligible is IsReachableEligible widened by the one-shot CanRetry
// override: a guard the preemption gate or RETRY_ONLY has flagged may be
// tried even while inside its own backoff window.
func (g *Guard) RetryEligible(now time.Time, retryInterval time.Duration) bool {
	return g.CanRetry || g.IsReachableEligible(now, retryInterval)
}

// MarkAttempted records the outcome of a connection attempt against this
// guard, updating MadeContact, UnreachableSince, and LastTried. CanRetry is
// always consumed, win or lose: it authorizes exactly one attempt.
func (g *Guard) MarkAttempted(now time.Time, succeeded bool) {
	g.LastTried = now
	g.CanRetry = false
	if succeeded {
		g.MadeContact = true
		g.UnreachableSince = time.Time{}
		return
	}
	if g.UnreachableSince.IsZero() {
		g.UnreachableSince = now
	}
}

// MarkUnlisted flags the guard as no longer present in the latest consensus.
func (g *Guard) MarkUnlisted() {
	g.Listed = false
}

// MarkBad flags the guard as bad as of now, if not already marked.
func (g *Guard) MarkBad(now time.Time) {
	if g.Bad {
		return
	}
	g.Bad = true
	g.BadSince = now
}

// Usable reports whether the guard may be considered for any sampled set:
// still listed in the consensus and not marked bad.
func (g *Guard) Usable() bool {
	return g.Listed && !g.Bad
}
