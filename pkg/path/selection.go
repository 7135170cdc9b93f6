package path

import (
	"context"
	"time"
)

// State is one of the four states of the guard selection algorithm.
type State int

const (
	// StatePrimaryGuards tries guards already in the primary ring, or
	// draws a new candidate to fill the ring if it isn't full yet.
	StatePrimaryGuards State = iota
	// StateTryUtopic tries guards from the utopic sampled set.
	StateTryUtopic
	// StateTryDystopic tries guards from the dystopic sampled set.
	StateTryDystopic
	// StateRetryOnly gives previously-tried guards one more attempt each
	// (every tracked guard is flagged CanRetry on first entry), on the
	// theory that the network (not the guards) was the problem.
	StateRetryOnly
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StatePrimaryGuards:
		return "PRIMARY_GUARDS"
	case StateTryUtopic:
		return "TRY_UTOPIC"
	case StateTryDystopic:
		return "TRY_DYSTOPIC"
	case StateRetryOnly:
		return "RETRY_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Session is one run of the guard selection algorithm, as used by a single
// circuit build attempt. A Session is not safe for concurrent use; a
// circuit builder that wants to attempt several circuits concurrently
// should create one Session per attempt via Controller.NewSession.
//
// Protocol: Start (done by NewSession) -> NextGuard, repeated -> end. After
// each NextGuard-and-attempt pair, call ShouldContinue to decide whether
// the loop may call NextGuard again.
type Session struct {
	id         string
	controller *Controller
	clock      Clock

	state            State
	previousState    State
	hasPreviousState bool
	tried            map[string]bool
	retryOnlyPrimed  bool
	exhausted        bool
	ended            bool
}

// ID returns the session's unique identifier, useful for correlating log
// lines across a single circuit build attempt.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's current state in the algorithm.
func (s *Session) State() State {
	return s.state
}

// start initializes the session at PRIMARY_GUARDS. It is called once by
// Controller.NewSession; a circuit builder never calls it directly.
func (s *Session) start() {
	s.state = StatePrimaryGuards
	s.hasPreviousState = false
	s.tried = make(map[string]bool)
}

// NextGuard returns the next candidate guard to attempt. Absent preemption,
// the session's internal state advances PRIMARY_GUARDS -> TRY_UTOPIC ->
// TRY_DYSTOPIC -> PRIMARY_GUARDS as each state's pool is exhausted; a stale
// primary (checkPreemption) or a RETRY_ONLY state saved as previousState
// before preemption can route back to RETRY_ONLY instead. It returns
// ok=false once a full pass finds no usable candidate anywhere.
func (s *Session) NextGuard(ctx context.Context) (*Guard, bool) {
	if s.ended {
		return nil, false
	}

	c := s.controller
	now := s.clock.Now()

	s.checkPreemption(c, now)

	// Bounded to the number of states so a single call can fall through
	// empty states without the caller looping itself.
	for attempt := 0; attempt < 4; attempt++ {
		switch s.state {
		case StatePrimaryGuards:
			if g, ok := s.nextPrimaryCandidate(c, now); ok {
				s.tried[g.Fingerprint] = true
				return g, true
			}
			if s.hasPreviousState {
				s.state = s.previousState
				s.hasPreviousState = false
			} else {
				s.state = StateTryUtopic
			}

		case StateTryUtopic:
			if g, ok := s.nextFromSet(c, c.sampledUtopicGuards, now); ok {
				s.tried[g.Fingerprint] = true
				return g, true
			}
			s.state = StateTryDystopic

		case StateTryDystopic:
			if g, ok := s.nextFromSet(c, c.sampledDystopicGuards, now); ok {
				s.tried[g.Fingerprint] = true
				return g, true
			}
			// TRY_DYSTOPIC exhaustion converges back to PRIMARY_GUARDS
			// rather than RETRY_ONLY (open design point, resolved per
			// spec recommendation): give the primary ring another shot
			// before falling back to the degraded-mode liveness ring.
			c.markPrimariesRetryable()
			s.hasPreviousState = false
			s.state = StatePrimaryGuards

		case StateRetryOnly:
			if !s.retryOnlyPrimed {
				c.primeRetryOnly()
				s.retryOnlyPrimed = true
			}
			if g, ok := s.nextRetryCandidate(c, now); ok {
				return g, true
			}
			s.exhausted = true
			return nil, false
		}
	}

	s.exhausted = true
	return nil, false
}

// checkPreemption implements the §4.3.2 cross-cutting preemption gate: if a
// primary guard has gone stale (last tried longer ago than
// PrimaryGuardsRetryInterval) while the session is off in a non-primary
// state, the functioning primary ring reasserts itself immediately.
func (s *Session) checkPreemption(c *Controller, now time.Time) {
	if s.state == StatePrimaryGuards {
		return
	}

	c.mu.Lock()
	primary := append([]string(nil), c.primaryGuards...)
	c.mu.Unlock()

	stale := false
	for _, fp := range primary {
		g, ok := c.registry.Get(fp)
		if !ok || g.LastTried.IsZero() {
			continue
		}
		if now.Sub(g.LastTried) > c.params.PrimaryGuardsRetryInterval {
			stale = true
			break
		}
	}
	if !stale {
		return
	}

	c.markPrimariesRetryable()
	s.previousState = s.state
	s.hasPreviousState = true
	s.state = StatePrimaryGuards
	c.logger.Info("primary guard stale, preempting back to primary ring", "session", s.id, "previous_state", s.previousState.String())
}

// nextPrimaryCandidate returns the first untried, retry-eligible guard
// already in the primary ring. If the ring has room for more members, it
// falls back to drawing an untried candidate from the sampled sets so the
// ring can be filled; a successful attempt against that candidate promotes
// it into the ring (see Controller.RegisterConnectStatus).
func (s *Session) nextPrimaryCandidate(c *Controller, now time.Time) (*Guard, bool) {
	c.mu.Lock()
	primary := append([]string(nil), c.primaryGuards...)
	roomInRing := len(c.primaryGuards) < c.params.NumPrimaryGuards
	c.mu.Unlock()

	for _, fp := range primary {
		g, ok := c.registry.Get(fp)
		if !ok || !g.Usable() {
			continue
		}
		// A primary already tried this session is only yielded again if
		// the preemption gate (or TRY_DYSTOPIC exhaustion) has granted it
		// a one-shot CanRetry; otherwise it is skipped like any other
		// state's tried candidate.
		if s.tried[fp] && !g.CanRetry {
			continue
		}
		if !g.RetryEligible(now, c.params.PrimaryGuardsRetryInterval) {
			continue
		}
		return g, true
	}

	if !roomInRing {
		return nil, false
	}

	c.mu.Lock()
	utopic := append([]string(nil), c.sampledUtopicGuards...)
	dystopic := append([]string(nil), c.sampledDystopicGuards...)
	c.mu.Unlock()

	if g, ok := s.firstUntriedUsable(c, utopic, now); ok {
		return g, true
	}
	return s.firstUntriedUsable(c, dystopic, now)
}

func (s *Session) nextFromSet(c *Controller, set []string, now time.Time) (*Guard, bool) {
	c.mu.Lock()
	snapshot := append([]string(nil), set...)
	c.mu.Unlock()
	return s.firstUntriedUsable(c, snapshot, now)
}

func (s *Session) firstUntriedUsable(c *Controller, set []string, now time.Time) (*Guard, bool) {
	for _, fp := range set {
		if s.tried[fp] {
			continue
		}
		g, ok := c.registry.Get(fp)
		if !ok || !g.Usable() {
			continue
		}
		if !g.RetryEligible(now, c.params.PrimaryGuardsRetryInterval) {
			continue
		}
		return g, true
	}
	return nil, false
}

// nextRetryCandidate cycles back through every previously-sampled guard,
// including ones already tried this session, looking for one that is retry
// eligible; a guard already tried is offered again only while its CanRetry
// flag is set. This is the algorithm's last resort: if the network
// itself was briefly unreachable, the guard that failed a moment ago may
// now succeed.
func (s *Session) nextRetryCandidate(c *Controller, now time.Time) (*Guard, bool) {
	c.mu.Lock()
	all := make([]string, 0, len(c.primaryGuards)+len(c.sampledUtopicGuards)+len(c.sampledDystopicGuards))
	all = append(all, c.primaryGuards...)
	all = append(all, c.sampledUtopicGuards...)
	all = append(all, c.sampledDystopicGuards...)
	c.mu.Unlock()

	seen := make(map[string]bool, len(all))
	for _, fp := range all {
		if seen[fp] {
			continue
		}
		seen[fp] = true

		g, ok := c.registry.Get(fp)
		if !ok || !g.Usable() {
			continue
		}
		if !g.RetryEligible(now, c.params.PrimaryGuardsRetryInterval) {
			continue
		}
		// Allow retrying a guard already tried this session, but only
		// once more: CanRetry is consumed by the next attempt, so a
		// tried guard is skipped again once that attempt is recorded.
		if s.tried[fp] && !g.CanRetry {
			continue
		}
		s.tried[fp] = true
		return g, true
	}
	return nil, false
}

// ShouldContinue reports whether the session may call NextGuard again, per
// §4.3.4. On failure the driver always continues. On success the driver
// normally stops — a circuit is built — UNLESS the previous success is
// older than InternetLikelyDownInterval, in which case the network was
// likely down and just came back: the algorithm re-converges to
// PRIMARY_GUARDS and asks the driver to continue in the hope of upgrading
// to a primary. lastSuccessAt is always updated on a success, regardless of
// which branch is taken.
func (s *Session) ShouldContinue(ctx context.Context, success bool) bool {
	if s.ended || s.exhausted {
		return false
	}

	if !success {
		return true
	}

	c := s.controller
	now := s.clock.Now()

	previous := c.LastSuccessAt()
	c.setLastSuccessAt(now)

	if !previous.IsZero() && now.Sub(previous) > c.params.InternetLikelyDownInterval {
		s.state = StatePrimaryGuards
		s.hasPreviousState = false
		c.logger.Info("internet likely down, re-converging to primary guards", "session", s.id)
		return true
	}

	return false
}

// End finalizes the session. It is idempotent; a circuit builder should
// call it exactly once when it stops calling NextGuard, whether because a
// guard succeeded or because the session was exhausted.
func (s *Session) End(ctx context.Context) {
	if s.ended {
		return
	}
	s.ended = true
	s.controller.logger.Debug("session ended", "session", s.id, "state", s.state.String(), "exhausted", s.exhausted)
}
