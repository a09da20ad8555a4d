package driver

import (
	"github.com/netdriver/tunbridge/addr"
	"github.com/netdriver/tunbridge/types"
)

// ListenUDP would register a UDP listener the way Listen does for TCP.
// SPEC_FULL's Non-goals call UDP endpoint bridging peripheral ("the
// structure exists but is peripheral"): the listener table and the
// types.ProtocolUDP tag are already shaped to carry it, but no lwip-level
// UDP pcb contract is wired up here. Left unimplemented until a consumer
// needs it, per §9's open questions.
func (dev *Device) ListenUDP(local addr.Address, accept AcceptFunc) error {
	return types.ErrUnsupportedAddress
}
