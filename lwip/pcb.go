package lwip

// IPAddr is lwIP's ip_addr_t: a tagged union of an IPv4 or IPv6 address.
type IPAddr struct {
	V6   bool
	Addr [16]byte // low 4 bytes significant when !V6
}

// V4 builds an IPv4 IPAddr from four octets.
func V4(a, b, c, d byte) IPAddr {
	var ip IPAddr
	ip.Addr[0], ip.Addr[1], ip.Addr[2], ip.Addr[3] = a, b, c, d
	return ip
}

// Flags are the subset of lwIP's struct tcp_pcb flags this driver toggles.
type Flags uint8

const (
	FlagNoDelay Flags = 1 << iota
	FlagRXClosed
	FlagFin
)

// WriteFlags mirrors tcp_write's flags argument.
type WriteFlags uint8

const WriteFlagCopy WriteFlags = 1

// RecvFunc mirrors lwIP's tcp_recv_fn. p == nil signals the peer sent FIN.
type RecvFunc func(pcb PCB, p *Pbuf, err Err) Err

// SentFunc mirrors tcp_sent_fn: len bytes have been ACKed.
type SentFunc func(pcb PCB, length int) Err

// ErrFunc mirrors tcp_err_fn. The stack has already detached pcb by the
// time this runs; callers must not touch it further.
type ErrFunc func(err Err)

// ConnectedFunc mirrors tcp_connected_fn.
type ConnectedFunc func(pcb PCB, err Err) Err

// PCB is the consumed contract for a single TCP protocol control block:
// everything net_tun_endpoint.c calls on struct tcp_pcb *. Implementations
// are provided by the embedded TCP/IP stack (an external collaborator);
// this package ships one reference implementation (see Stack/sim.go) for
// tests and the sample command, and driver tests substitute a scripted
// fake satisfying this same interface.
type PCB interface {
	// Arg/SetArg mirror tcp_arg: an opaque user pointer carried by the
	// PCB. The bridge sets it to the owning endpoint; its callbacks are
	// bound Go method values, so it never reads the value back.
	SetArg(arg interface{})
	Arg() interface{}

	SetErrFunc(ErrFunc)
	SetRecvFunc(RecvFunc)
	SetSentFunc(SentFunc)

	Bind(local IPAddr, port uint16) Err
	Connect(remote IPAddr, port uint16, cb ConnectedFunc) Err

	Abort()
	Close() Err
	Shutdown(rx, tx bool) Err

	Write(data []byte, flags WriteFlags) Err
	Output() Err
	Recved(n int)

	SndBuf() int
	MSS() int

	SetFlags(Flags)
	ClearFlags(Flags)
	HasFlag(Flags) bool

	// LocalAddr/LocalPort reflect the address lwIP assigned (or the one
	// the caller bound) once Connect/Bind have run.
	LocalAddr() IPAddr
	LocalPort() uint16

	// RemoteAddr/RemotePort are populated on an accepted or connected pcb.
	RemoteAddr() IPAddr
	RemotePort() uint16

	// Listen mirrors tcp_listen: turns pcb into a listening pcb with the
	// given backlog. The returned PCB replaces pcb (lwIP itself
	// reallocates a smaller struct for listening pcbs).
	Listen(backlog int) (PCB, Err)

	// SetAcceptFunc mirrors tcp_accept: installs the callback a listening
	// pcb invokes once per inbound connection.
	SetAcceptFunc(AcceptFunc)
}

// AcceptFunc mirrors lwIP's tcp_accept_fn.
type AcceptFunc func(newPCB PCB, err Err) Err

// OutputFunc is the transmit callback the TUN pump (C2) registers with the
// stack for a given interface: it must write a full, ready-to-send IP
// datagram to the TUN device (spec §4.1's "write path").
type OutputFunc func(datagram []byte) error

// NetIf is the consumed contract for a single stack interface: the input
// half the TUN pump feeds and the output half it supplies.
type NetIf interface {
	// Input mirrors netif.input: hand a freshly read IP datagram to the
	// stack. Returns a non-OK Err if the stack rejected the packet (the
	// pump frees the pbuf and continues reading either way, per §4.1).
	Input(p *Pbuf) Err

	// SetAddress configures the interface's local IPv4 address/netmask,
	// used to answer inbound SYNs addressed to the device.
	SetAddress(local, netmask IPAddr)
}

// Stack is the consumed contract for the embedded TCP/IP stack instance
// itself: PCB construction and per-device interface creation.
type Stack interface {
	// NewPCB mirrors tcp_new.
	NewPCB() PCB

	// NewNetIf creates a stack-side interface backed by output, the
	// device's transmit function.
	NewNetIf(mtu uint32, output OutputFunc) NetIf
}
