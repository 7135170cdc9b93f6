package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
	"github.com/opd-ai/tor-guardsim/pkg/path"
)

// simNetwork is a small in-memory Network implementation for the demo: it
// hands out a fixed pool of synthetic relays and simulates reachability
// according to a configured down-fraction, so a run can exercise the
// selection algorithm's fallback and retry behavior without real sockets.
type simNetwork struct {
	mu          sync.Mutex
	relays      []*directory.Relay
	unreachable map[string]bool
}

func newSimNetwork(numUtopic, numDystopic int, downFraction float64) (*simNetwork, error) {
	relays := make([]*directory.Relay, 0, numUtopic+numDystopic)
	for i := 0; i < numUtopic; i++ {
		relays = append(relays, syntheticRelay(fmt.Sprintf("utopic-%02d", i), 9001+i, int64(1000+i*50)))
	}
	for i := 0; i < numDystopic; i++ {
		relays = append(relays, syntheticRelay(fmt.Sprintf("dystopic-%02d", i), 443, int64(500+i*25)))
	}

	unreachable := make(map[string]bool, len(relays))
	for _, r := range relays {
		down, err := coinFlip(downFraction)
		if err != nil {
			return nil, err
		}
		unreachable[r.Fingerprint] = down
	}

	return &simNetwork{relays: relays, unreachable: unreachable}, nil
}

func syntheticRelay(nickname string, orPort int, bandwidth int64) *directory.Relay {
	return &directory.Relay{
		Fingerprint: nickname,
		Nickname:    nickname,
		Address:     "198.51.100.1",
		ORPort:      orPort,
		Bandwidth:   bandwidth,
		Flags:       []string{"Guard", "Running", "Valid"},
	}
}

// coinFlip reports true with probability p, using crypto/rand so the demo
// doesn't depend on an unseeded math/rand default source.
func coinFlip(p float64) (bool, error) {
	const resolution = 10000
	v, err := rand.Int(rand.Reader, big.NewInt(resolution))
	if err != nil {
		return false, err
	}
	return float64(v.Int64()) < p*resolution, nil
}

func (n *simNetwork) IsReachable(ctx context.Context, g *path.Guard) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.unreachable[g.Fingerprint]
}

func (n *simNetwork) FreshConsensus(ctx context.Context) ([]*directory.Relay, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.relays, nil
}

// flip toggles a relay's simulated reachability. The demo run in main never
// calls it; only the package's tests use it.
func (n *simNetwork) flip(fingerprint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unreachable[fingerprint] = !n.unreachable[fingerprint]
}
