package driver

import (
	"github.com/netdriver/tunbridge/addr"
	"github.com/netdriver/tunbridge/lwip"
	"github.com/netdriver/tunbridge/types"
)

// listenerKey identifies a registered listener by the address/protocol pair
// inbound traffic is matched against, the same key shape the teacher's
// transport demuxer uses (network address, transport protocol).
type listenerKey struct {
	addr     string
	protocol types.Protocol
}

// AcceptFunc is invoked once per inbound connection a listener accepts. It
// receives the newly bridged endpoint; returning an error refuses the
// connection (the caller aborts the newly created pcb).
type AcceptFunc func(ep *Endpoint) error

// listener is one registered entry: the accept callback plus the lwIP
// listening pcb backing it, kept so device teardown or an explicit Close
// can release the stack-side resource.
type listener struct {
	accept AcceptFunc
	pcb    lwip.PCB
}

// listenerTable is C3: the per-device registry of (address, protocol) ->
// listener, grounded on the original driver's net_raw_device_tun_listener
// hash table (a per-device set keyed the same way, freed as a batch on
// device teardown). Per §5 no lock guards it: only the goroutine driving
// the injected Loop ever calls Listen/CloseListener/freeAll.
type listenerTable struct {
	listeners map[listenerKey]*listener
}

func newListenerTable() *listenerTable {
	return &listenerTable{listeners: make(map[listenerKey]*listener)}
}

func (t *listenerTable) register(local addr.Address, proto types.Protocol, l *listener) error {
	key := listenerKey{addr: local.String(), protocol: proto}

	if _, exists := t.listeners[key]; exists {
		return types.ErrListenerExists
	}
	t.listeners[key] = l
	return nil
}

func (t *listenerTable) unregister(local addr.Address, proto types.Protocol) {
	key := listenerKey{addr: local.String(), protocol: proto}
	if l, ok := t.listeners[key]; ok {
		l.pcb.Abort()
		delete(t.listeners, key)
	}
}

// freeAll releases every registered listener's pcb, mirroring
// net_raw_device_tun_listener_free_all on device teardown.
func (t *listenerTable) freeAll() {
	for key, l := range t.listeners {
		l.pcb.Abort()
		delete(t.listeners, key)
	}
}
