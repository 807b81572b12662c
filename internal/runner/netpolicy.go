package runner

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrNetworkDisabled is returned by the denying dialer.
var ErrNetworkDisabled = errors.New("network access disabled for this execution")

// NetPolicy is the dialing capability handed to the execution
// environment. Code that needs the network receives exactly this
// interface, never a raw dialer, so denial is a matter of which
// implementation gets threaded in rather than global state.
//
// The denying policy is best-effort: it governs code that dials through
// the environment. The seccomp filter and external sandboxes are the
// authoritative controls for code that bypasses it.
type NetPolicy interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// AllowNet permits outbound connections.
type AllowNet struct {
	dialer net.Dialer
}

// NewAllowNet returns a permitting policy with sane dial timeouts.
func NewAllowNet() *AllowNet {
	return &AllowNet{dialer: net.Dialer{Timeout: 30 * time.Second}}
}

func (a *AllowNet) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return a.dialer.DialContext(ctx, network, addr)
}

// DenyNet refuses every connection attempt.
type DenyNet struct{}

func (DenyNet) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return nil, ErrNetworkDisabled
}
