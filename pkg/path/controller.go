// Package path implements entry-guard selection: the decision procedure a
// Tor-style client uses to pick which relay a circuit enters through, and
// the durable state (used guards, sampled utopic/dystopic sets) that keeps
// that choice stable across restarts.
package path

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/tor-guardsim/pkg/config"
	pkgerrors "github.com/opd-ai/tor-guardsim/pkg/errors"
	"github.com/opd-ai/tor-guardsim/pkg/health"
	"github.com/opd-ai/tor-guardsim/pkg/logger"
)

// Controller is the Client Controller of the selection algorithm: it owns
// the guard Registry, the durable ordering of primary/used guards and the
// sampled utopic/dystopic sets, and mediates every call into the Network
// and WeightedChooser collaborators. A circuit builder drives guard
// selection by creating a Session from a Controller and following the
// start -> nextGuard* -> shouldContinue -> end protocol.
type Controller struct {
	mu sync.Mutex

	registry *Registry
	params   config.GuardParams
	network  Network
	chooser  WeightedChooser
	clock    Clock
	logger   *logger.Logger

	// primaryGuards is the ordered ring of preferred guards (fingerprints).
	primaryGuards []string

	// usedGuards lists every fingerprint the client has ever successfully
	// connected through, in first-use order.
	usedGuards []string

	// sampledUtopicGuards / sampledDystopicGuards are the two fallback
	// pools, each refilled from the consensus whenever their coverage of
	// non-bad candidates drops below SampleSetThreshold.
	sampledUtopicGuards   []string
	sampledDystopicGuards []string

	lastConsensusSize   int
	lastConsensusUpdate time.Time
	persist             *Store

	// lastSuccessAt is the durable, cross-session timestamp of the most
	// recent successful connection, used by Session.ShouldContinue to
	// detect a network outage followed by recovery (§4.3.4).
	lastSuccessAt time.Time

	// excludeNodes is an operator-level block list: fingerprints here are
	// never listed as usable, regardless of what the consensus says.
	excludeNodes map[string]bool
}

// NewController builds a Controller with the given configuration and
// Network collaborator. chooser selects which implementation of
// WeightedChooser to use based on params.PrioritizeBandwidth. If store is
// non-nil, durable state is loaded from it immediately.
func NewController(params config.GuardParams, network Network, store *Store, log *logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.NewDefault()
	}

	var chooser WeightedChooser
	if params.PrioritizeBandwidth {
		chooser = BandwidthWeightedChooser{}
	} else {
		chooser = UniformChooser{}
	}

	c := &Controller{
		registry:     NewRegistry(),
		params:       params,
		network:      network,
		chooser:      chooser,
		clock:        SystemClock{},
		logger:       log.Component("guard-controller"),
		persist:      store,
		excludeNodes: make(map[string]bool),
	}

	if store != nil {
		if err := store.Load(c); err != nil {
			return nil, pkgerrors.GuardError("failed to load guard state", err)
		}
	}

	return c, nil
}

// SetExcludeNodes configures an operator-level block list: fingerprints
// matching this list are never treated as usable guards, no matter what the
// consensus reports. Any already-registered guard matching the list is
// marked unlisted immediately; the exclusion is enforced again on every
// subsequent OnNewConsensus.
func (c *Controller) SetExcludeNodes(fingerprints []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.excludeNodes = make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		c.excludeNodes[fp] = true
	}

	c.registry.Range(func(g *Guard) bool {
		if c.excludeNodes[g.Fingerprint] {
			g.MarkUnlisted()
		}
		return true
	})
}

// OnNewConsensus fetches the latest consensus via the Network collaborator
// and reconciles the registry and sampled sets against it. This should be
// called periodically (see Scheduler) and whenever the client suspects its
// view of the network is stale.
func (c *Controller) OnNewConsensus(ctx context.Context) error {
	relays, err := c.network.FreshConsensus(ctx)
	if err != nil {
		return pkgerrors.GuardError("failed to fetch fresh consensus", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	eligible := relays[:0:0]
	for _, relay := range relays {
		if c.excludeNodes[relay.Fingerprint] {
			continue
		}
		if !relay.IsGuard() || !relay.IsRunning() || !relay.IsValid() {
			continue
		}
		eligible = append(eligible, relay)
	}
	relays = eligible

	now := c.clock.Now()

	c.registry.MarkAllUnlisted()
	fresh := c.registry.ReconcileConsensus(relays)
	for _, relay := range fresh {
		dystopic := relay.IsDystopic()
		c.registry.GetOrCreate(relay.Fingerprint, func() *Guard {
			return newGuardFromRelay(relay, dystopic, now)
		})
	}

	c.lastConsensusSize = len(relays)
	c.lastConsensusUpdate = now

	// A guard that drops out of the consensus is marked bad so
	// removeDeadEntryGuardsLocked can eventually evict it.
	c.registry.Range(func(g *Guard) bool {
		if !g.Listed {
			g.MarkBad(now)
		}
		return true
	})

	c.refillSampledSetLocked(&c.sampledUtopicGuards, false, now)
	c.refillSampledSetLocked(&c.sampledDystopicGuards, true, now)
	c.removeObsoleteEntryGuardsLocked(now)
	c.removeDeadEntryGuardsLocked(now)

	c.logger.Info("reconciled consensus",
		"relays", len(relays),
		"new_guards", len(fresh),
		"sampled_utopic", len(c.sampledUtopicGuards),
		"sampled_dystopic", len(c.sampledDystopicGuards))

	if c.persist != nil {
		if err := c.persist.Save(c); err != nil {
			c.logger.Warn("failed to persist guard state", "error", err)
		}
	}

	return nil
}

// refillSampledSetLocked tops up one of the sampled sets until its coverage
// of non-bad candidates reaches SampleSetThreshold of the whole registry,
// drawing new members through the controller's WeightedChooser from the
// as-yet-unsampled pool of the requested utopic/dystopic flavor. Caller must
// hold c.mu.
func (c *Controller) refillSampledSetLocked(set *[]string, dystopic bool, now time.Time) {
	total := c.registry.Len()
	if total == 0 {
		return
	}

	target := int(float64(total) * c.params.SampleSetThreshold)
	if target < 1 {
		target = 1
	}

	existing := make(map[string]bool, len(*set))
	nonBad := 0
	for _, fp := range *set {
		existing[fp] = true
		if g, ok := c.registry.Get(fp); ok && g.Usable() {
			nonBad++
		}
	}

	if nonBad >= target {
		return
	}

	var candidates []*Guard
	c.registry.Range(func(g *Guard) bool {
		if g.Dystopic == dystopic && g.Usable() && !existing[g.Fingerprint] {
			candidates = append(candidates, g)
		}
		return true
	})

	for nonBad < target && len(candidates) > 0 {
		chosen, err := c.chooser.Choose(candidates)
		if err != nil {
			return
		}
		*set = append(*set, chosen.Fingerprint)
		nonBad++
		for i, g := range candidates {
			if g == chosen {
				candidates = append(candidates[:i], candidates[i+1:]...)
				break
			}
		}
	}
}

// removeObsoleteEntryGuardsLocked evicts guards whose AddedAt is older than
// GuardLifetime and which have never been used, on the theory that a
// sampled-but-never-tried guard has simply aged out. Caller must hold c.mu.
func (c *Controller) removeObsoleteEntryGuardsLocked(now time.Time) {
	used := make(map[string]bool, len(c.usedGuards))
	for _, fp := range c.usedGuards {
		used[fp] = true
	}

	var obsolete []string
	c.registry.Range(func(g *Guard) bool {
		if used[g.Fingerprint] {
			return true
		}
		if now.Sub(g.AddedAt) >= c.params.GuardLifetime {
			obsolete = append(obsolete, g.Fingerprint)
		}
		return true
	})

	for _, fp := range obsolete {
		c.registry.Delete(fp)
		c.removeFromSet(&c.sampledUtopicGuards, fp)
		c.removeFromSet(&c.sampledDystopicGuards, fp)
		c.removeFromSet(&c.primaryGuards, fp)
	}
	if len(obsolete) > 0 {
		c.logger.Info("removed obsolete entry guards", "count", len(obsolete))
	}
}

// removeDeadEntryGuardsLocked evicts guards that have been marked bad for
// longer than EntryGuardRemoveAfter. Caller must hold c.mu.
func (c *Controller) removeDeadEntryGuardsLocked(now time.Time) {
	var dead []string
	c.registry.Range(func(g *Guard) bool {
		if g.Bad && !g.BadSince.IsZero() && now.Sub(g.BadSince) >= c.params.EntryGuardRemoveAfter {
			dead = append(dead, g.Fingerprint)
		}
		return true
	})

	for _, fp := range dead {
		c.registry.Delete(fp)
		c.removeFromSet(&c.sampledUtopicGuards, fp)
		c.removeFromSet(&c.sampledDystopicGuards, fp)
		c.removeFromSet(&c.primaryGuards, fp)
		c.removeFromSet(&c.usedGuards, fp)
	}
	if len(dead) > 0 {
		c.logger.Info("removed dead entry guards", "count", len(dead))
	}
}

func (c *Controller) removeFromSet(set *[]string, fingerprint string) {
	for i, fp := range *set {
		if fp == fingerprint {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return
		}
	}
}

// removeFromSetChanged is removeFromSet reporting whether it actually
// removed anything, so callers can skip unnecessary persistence.
func (c *Controller) removeFromSetChanged(set *[]string, fingerprint string) bool {
	for i, fp := range *set {
		if fp == fingerprint {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return true
		}
	}
	return false
}

// LastSuccessAt returns the durable timestamp of the last successful
// connection across every session this controller has driven, or the zero
// Time if there has never been one.
func (c *Controller) LastSuccessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccessAt
}

func (c *Controller) setLastSuccessAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSuccessAt = t
}

// markPrimariesRetryable sets CanRetry on every guard currently in the
// primary ring, implementing the one-shot override the §4.3.2 preemption
// gate and TRY_DYSTOPIC's exhaustion path both grant the primary ring.
func (c *Controller) markPrimariesRetryable() {
	c.mu.Lock()
	primary := append([]string(nil), c.primaryGuards...)
	c.mu.Unlock()

	for _, fp := range primary {
		if g, ok := c.registry.Get(fp); ok {
			g.CanRetry = true
		}
	}
}

// primeRetryOnly sets CanRetry on every guard the RETRY_ONLY state may
// cycle through, exactly once per session entry into that state.
func (c *Controller) primeRetryOnly() {
	c.mu.Lock()
	all := make([]string, 0, len(c.primaryGuards)+len(c.sampledUtopicGuards)+len(c.sampledDystopicGuards))
	all = append(all, c.primaryGuards...)
	all = append(all, c.sampledUtopicGuards...)
	all = append(all, c.sampledDystopicGuards...)
	c.mu.Unlock()

	for _, fp := range all {
		if g, ok := c.registry.Get(fp); ok {
			g.CanRetry = true
		}
	}
}

// NewSession starts a new guard-selection session, implementing the
// algorithm's `start` operation. A circuit builder calls NextGuard
// repeatedly until it either succeeds or ShouldContinue reports false, then
// calls End exactly once.
func (c *Controller) NewSession() *Session {
	s := &Session{
		id:         uuid.NewString(),
		controller: c,
		clock:      c.clock,
		tried:      make(map[string]bool),
	}
	s.start()
	return s
}

// BuildCircuit drives a full selection session against the Network
// collaborator's IsReachable oracle and returns the guard a circuit should
// be built through. This is the convenience entry point a circuit builder
// uses when it doesn't need to interleave other work between candidates.
func (c *Controller) BuildCircuit(ctx context.Context) (*Guard, error) {
	session := c.NewSession()
	defer session.End(ctx)

	attempts := 0
	for attempts < c.params.BuildCircuitTimeout {
		guard, ok := session.NextGuard(ctx)
		if !ok {
			break
		}
		attempts++

		succeeded := c.network.IsReachable(ctx, guard)
		c.RegisterConnectStatus(guard, succeeded)
		if !session.ShouldContinue(ctx, succeeded) {
			if succeeded {
				return guard, nil
			}
			break
		}
	}

	return nil, pkgerrors.GuardError("no reachable guard found", errNoUsableGuard)
}

// RegisterConnectStatus records the outcome of a connection attempt against
// a guard. BuildCircuit calls it after every attempt, and callers that drive
// the session loop themselves call it directly (registerConnectStatus in the
// original design). It updates the guard's own bookkeeping and, on success,
// appends it to usedGuards and promotes it into the primary ring if there is
// room; a failure before the guard ever made contact removes it from
// usedGuards.
func (c *Controller) RegisterConnectStatus(g *Guard, succeeded bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	hadMadeContact := g.MadeContact
	g.MarkAttempted(now, succeeded)

	if !succeeded {
		// A guard that never completed its first circuit is never fully
		// adopted: a failure before madeContact removes it from
		// usedGuards rather than leaving it there to retry.
		if !hadMadeContact && c.removeFromSetChanged(&c.usedGuards, g.Fingerprint) {
			if c.persist != nil {
				if err := c.persist.Save(c); err != nil {
					c.logger.Warn("failed to persist guard state", "error", err)
				}
			}
		}
		return
	}

	if !contains(c.usedGuards, g.Fingerprint) {
		c.usedGuards = append(c.usedGuards, g.Fingerprint)
	}

	if !contains(c.primaryGuards, g.Fingerprint) && len(c.primaryGuards) < c.params.NumPrimaryGuards {
		c.primaryGuards = append(c.primaryGuards, g.Fingerprint)
		c.logger.Info("promoted guard to primary ring", "fingerprint", g.Fingerprint, "nickname", g.Nickname)
	}

	if c.persist != nil {
		if err := c.persist.Save(c); err != nil {
			c.logger.Warn("failed to persist guard state", "error", err)
		}
	}
}

// Stats reports a snapshot of guard-subsystem health for the health
// package's GuardHealthChecker.
type Stats struct {
	PrimaryGuardCount     int
	ReachablePrimaryCount int
	SampledUtopicCount    int
	SampledDystopicCount  int
	UsedGuardCount        int
}

// Stats returns a snapshot suitable for health.GuardHealthChecker.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	reachable := 0
	for _, fp := range c.primaryGuards {
		if g, ok := c.registry.Get(fp); ok && g.IsReachableEligible(c.clock.Now(), c.params.PrimaryGuardsRetryInterval) {
			reachable++
		}
	}

	return Stats{
		PrimaryGuardCount:     len(c.primaryGuards),
		ReachablePrimaryCount: reachable,
		SampledUtopicCount:    len(c.sampledUtopicGuards),
		SampledDystopicCount:  len(c.sampledDystopicGuards),
		UsedGuardCount:        len(c.usedGuards),
	}
}

// DirectoryStats returns a snapshot suitable for health.DirectoryHealthChecker.
// ExitCount is always zero: this module only ever tracks guard-eligible
// relays, never exit selection, so it has nothing meaningful to report there.
func (c *Controller) DirectoryStats() health.DirectoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return health.DirectoryStats{
		LastConsensusUpdate: c.lastConsensusUpdate,
		ConsensusAge:        c.clock.Now().Sub(c.lastConsensusUpdate),
		RelayCount:          c.lastConsensusSize,
		GuardCount:          c.registry.Len(),
	}
}

func contains(set []string, fingerprint string) bool {
	for _, fp := range set {
		if fp == fingerprint {
			return true
		}
	}
	return false
}
