package path

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/directory"
)

// DirectoryNetwork implements Network against a real directory.Client and
// real TCP dials, for callers selecting guards against the live network
// rather than a simulated one (see cmd/guardsim for the simulated variant).
type DirectoryNetwork struct {
	client *directory.Client

	// DialTimeout bounds each reachability probe. Zero uses a 10 second
	// default.
	DialTimeout time.Duration
}

// NewDirectoryNetwork wraps client as a Network collaborator.
func NewDirectoryNetwork(client *directory.Client) *DirectoryNetwork {
	return &DirectoryNetwork{client: client}
}

// FreshConsensus implements Network by delegating to the wrapped
// directory.Client.
func (n *DirectoryNetwork) FreshConsensus(ctx context.Context) ([]*directory.Relay, error) {
	return n.client.FetchConsensus(ctx)
}

// IsReachable implements Network by attempting a real TCP dial to the
// guard's advertised OR port. This is a pure connectivity probe: it makes
// no attempt to speak the Tor link protocol, since this module stops at
// guard selection.
func (n *DirectoryNetwork) IsReachable(ctx context.Context, g *Guard) bool {
	timeout := n.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(g.Address, strconv.Itoa(g.ORPort))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
