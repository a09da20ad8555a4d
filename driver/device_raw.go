package driver

import "github.com/netdriver/tunbridge/types"

// OpenRAW would open a raw AF_PACKET device the way
// net_raw_device_raw_i.h's sibling driver does, bridging whole Ethernet
// frames instead of IP datagrams. SPEC_FULL's Non-goals exclude the RAW
// device variant; this stub exists so a caller gets a clear error instead
// of a missing symbol if the original_source's two-driver split is ever
// extended here.
func (d *Driver) OpenRAW(name string) (*Device, error) {
	return nil, types.ErrRawDeviceUnsupported
}
