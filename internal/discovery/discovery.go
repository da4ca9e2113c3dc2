// Package discovery defines the seam external bridge-discovery code
// plugs into. SSDP and mDNS beaconing live outside this repository;
// this package only names the shape a beacon would need, so the
// wiring layer has somewhere to hand its bridge identity without this
// repository owning either wire protocol.
package discovery

import "context"

// Identity is the subset of bridge identity a discovery beacon
// advertises.
type Identity struct {
	BridgeID  string
	MAC       string
	ModelID   string
	SWVersion string
	Addr      string // base URL the bridge answers requests on
}

// Beacon advertises a bridge's identity over whatever discovery
// transport implements it (SSDP, mDNS, a cloud registration call).
// Advertise blocks until ctx is canceled.
type Beacon interface {
	Advertise(ctx context.Context, id Identity) error
}

// NoopBeacon satisfies Beacon without advertising anything, for
// deployments that rely on manual bridge-address configuration
// instead of discovery.
type NoopBeacon struct{}

func (NoopBeacon) Advertise(ctx context.Context, id Identity) error {
	<-ctx.Done()
	return nil
}
