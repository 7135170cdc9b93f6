package path

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
)

// Network is the external collaborator the selection algorithm asks to test
// connectivity and fetch the latest consensus. DirectoryNetwork (network.go)
// is this package's implementation that dials real relays; the algorithm
// only ever depends on this interface.
type Network interface {
	// IsReachable attempts to open a connection to the guard and reports
	// whether it succeeded. The algorithm treats this as a single
	// external oracle call per attempt; it never retries internally.
	IsReachable(ctx context.Context, g *Guard) bool

	// FreshConsensus returns the current set of candidate relays. Callers
	// that already hold a directory.Client satisfy this trivially.
	FreshConsensus(ctx context.Context) ([]*directory.Relay, error)
}

// Clock abstracts the monotonic source of "now" so tests can control time
// without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// WeightedChooser selects one guard from a pool of candidates. The
// specification explicitly excludes real bandwidth-weight computation from
// its core; PrioritizeBandwidth only toggles which of the two chooser
// implementations below a Controller is built with.
type WeightedChooser interface {
	Choose(candidates []*Guard) (*Guard, error)
}

// UniformChooser picks uniformly at random among the candidates. A
// Controller uses it when PrioritizeBandwidth is false (the default is
// true, which selects BandwidthWeightedChooser), and
// BandwidthWeightedChooser falls back to it when no candidate reports any
// bandwidth.
type UniformChooser struct{}

// Choose implements WeightedChooser.
func (UniformChooser) Choose(candidates []*Guard) (*Guard, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	idx, err := randomIndex(len(candidates))
	if err != nil {
		return nil, err
	}
	return candidates[idx], nil
}

// BandwidthWeightedChooser picks among candidates with probability
// proportional to each guard's advertised Bandwidth, falling back to
// uniform selection if every candidate reports zero bandwidth. It is a
// simple proportional sampler, not Tor's consensus bandwidth-weighting
// math (Wgg/Wgd and friends), which is out of scope for this package.
type BandwidthWeightedChooser struct{}

// Choose implements WeightedChooser.
func (BandwidthWeightedChooser) Choose(candidates []*Guard) (*Guard, error) {
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}

	var total int64
	for _, g := range candidates {
		if g.Bandwidth > 0 {
			total += g.Bandwidth
		}
	}
	if total <= 0 {
		return UniformChooser{}.Choose(candidates)
	}

	target, err := randomInt64(total)
	if err != nil {
		return nil, err
	}

	var cumulative int64
	for _, g := range candidates {
		if g.Bandwidth <= 0 {
			continue
		}
		cumulative += g.Bandwidth
		if target < cumulative {
			return g, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// randomIndex returns a cryptographically random index in [0, n).
func randomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errInvalidRange
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// randomInt64 returns a cryptographically random value in [0, n).
func randomInt64(n int64) (int64, error) {
	if n <= 0 {
		return 0, errInvalidRange
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}
