package path

import (
	"testing"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
)

func TestNewGuardFromRelay(t *testing.T) {
	relay := &directory.Relay{
		Fingerprint: "AAAA",
		Nickname:    "relay1",
		Address:     "10.0.0.1",
		ORPort:      9001,
		Bandwidth:   5000,
	}
	now := time.Now()

	g := newGuardFromRelay(relay, false, now)

	if g.Fingerprint != "AAAA" {
		t.Errorf("Fingerprint = %q, want AAAA", g.Fingerprint)
	}
	if g.Dystopic {
		t.Error("Dystopic = true, want false")
	}
	if !g.Listed {
		t.Error("Listed = false, want true for a freshly-sampled guard")
	}
	if g.MadeContact {
		t.Error("MadeContact = true, want false for a freshly-sampled guard")
	}
	if !g.AddedAt.Equal(now) {
		t.Errorf("AddedAt = %v, want %v", g.AddedAt, now)
	}
}

func TestGuardIsReachableEligible(t *testing.T) {
	now := time.Now()
	retryInterval := 3 * time.Minute

	g := &Guard{}
	if !g.IsReachableEligible(now, retryInterval) {
		t.Error("a guard that has never failed should be eligible")
	}

	g.UnreachableSince = now.Add(-1 * time.Minute)
	if g.IsReachableEligible(now, retryInterval) {
		t.Error("a guard that failed recently should not be eligible yet")
	}

	g.UnreachableSince = now.Add(-5 * time.Minute)
	if !g.IsReachableEligible(now, retryInterval) {
		t.Error("a guard whose retry interval has elapsed should be eligible")
	}
}

func TestGuardRetryEligible(t *testing.T) {
	now := time.Now()
	retryInterval := 3 * time.Minute

	g := &Guard{UnreachableSince: now.Add(-time.Minute)}
	if g.RetryEligible(now, retryInterval) {
		t.Error("a recently-failed guard without CanRetry should not be retry-eligible")
	}

	g.CanRetry = true
	if !g.RetryEligible(now, retryInterval) {
		t.Error("CanRetry should override a still-open backoff window")
	}
}

func TestGuardMarkAttemptedConsumesCanRetry(t *testing.T) {
	now := time.Now()

	g := &Guard{CanRetry: true}
	g.MarkAttempted(now, true)
	if g.CanRetry {
		t.Error("CanRetry should be consumed by a successful attempt")
	}

	g = &Guard{CanRetry: true}
	g.MarkAttempted(now, false)
	if g.CanRetry {
		t.Error("CanRetry should be consumed by a failed attempt too")
	}
}

func TestGuardMarkAttemptedSuccess(t *testing.T) {
	now := time.Now()
	g := &Guard{UnreachableSince: now.Add(-time.Hour)}

	g.MarkAttempted(now, true)

	if !g.MadeContact {
		t.Error("MadeContact should be true after a successful attempt")
	}
	if !g.UnreachableSince.IsZero() {
		t.Error("UnreachableSince should be cleared after a successful attempt")
	}
	if !g.LastTried.Equal(now) {
		t.Errorf("LastTried = %v, want %v", g.LastTried, now)
	}
}

func TestGuardMarkAttemptedFailure(t *testing.T) {
	now := time.Now()
	g := &Guard{}

	g.MarkAttempted(now, false)
	if g.UnreachableSince.IsZero() {
		t.Error("UnreachableSince should be set after a failed attempt")
	}

	first := g.UnreachableSince
	later := now.Add(time.Minute)
	g.MarkAttempted(later, false)
	if !g.UnreachableSince.Equal(first) {
		t.Error("UnreachableSince should not move on a second consecutive failure")
	}
}

func TestGuardMarkBad(t *testing.T) {
	now := time.Now()
	g := &Guard{}

	g.MarkBad(now)
	if !g.Bad {
		t.Error("Bad should be true after MarkBad")
	}
	if !g.BadSince.Equal(now) {
		t.Errorf("BadSince = %v, want %v", g.BadSince, now)
	}

	later := now.Add(time.Hour)
	g.MarkBad(later)
	if !g.BadSince.Equal(now) {
		t.Error("BadSince should not move once already marked bad")
	}
}

func TestGuardUsable(t *testing.T) {
	cases := []struct {
		name   string
		listed bool
		bad    bool
		want   bool
	}{
		{"listed and not bad", true, false, true},
		{"unlisted", false, false, false},
		{"bad", true, true, false},
		{"unlisted and bad", false, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &Guard{Listed: tc.listed, Bad: tc.bad}
			if got := g.Usable(); got != tc.want {
				t.Errorf("Usable() = %v, want %v", got, tc.want)
			}
		})
	}
}
