package lwip

import (
	"math/rand"

	"github.com/netdriver/tunbridge/lwip/internal/wire"
)

// Sim is a reference Stack implementation: a deliberately small TCP state
// machine (no retransmission, no congestion control; each Output sends all
// queued data as one segment without waiting for earlier ones to be ACKed)
// sufficient to drive the bridge end to end in tests and in the
// sample command without linking a real lwIP binding. Production builds
// swap this for a cgo binding behind the same Stack/PCB/NetIf interfaces.
type Sim struct {
	pcbs       map[*simPCB]struct{}
	listeners  map[uint16]*simPCB
	defaultNIf *simNetIf
}

// NewSim constructs a reference Stack.
func NewSim() *Sim {
	return &Sim{pcbs: make(map[*simPCB]struct{}), listeners: make(map[uint16]*simPCB)}
}

func (s *Sim) NewPCB() PCB {
	p := &simPCB{stack: s, sndBufCap: 1 << 16, sndBuf: 1 << 16, state: stateClosed}
	s.pcbs[p] = struct{}{}
	return p
}

func (s *Sim) NewNetIf(mtu uint32, output OutputFunc) NetIf {
	n := &simNetIf{stack: s, mtu: mtu, output: output}
	if s.defaultNIf == nil {
		s.defaultNIf = n
	}
	return n
}

type tcpState int

const (
	stateClosed tcpState = iota
	stateSynSent
	stateSynRcvd
	stateEstablished
	stateFinSent
)

type simNetIf struct {
	stack   *Sim
	mtu     uint32
	output  OutputFunc
	local   IPAddr
	netmask IPAddr
}

func (n *simNetIf) SetAddress(local, netmask IPAddr) {
	n.local, n.netmask = local, netmask
}

// Input parses an inbound IPv4/TCP datagram and drives the matching pcb's
// (or listening pcb's) state machine. Non-TCP or malformed datagrams are
// rejected with ErrArg, mirroring lwIP's ip_input dropping what it can't
// parse.
func (n *simNetIf) Input(p *Pbuf) Err {
	ip := wire.IPv4(p.data)
	if !ip.Valid() || ip.Protocol() != wire.ProtocolTCP {
		return ErrArg
	}
	seg := wire.TCP(ip.Payload())
	if len(seg) < wire.TCPHeaderLen {
		return ErrArg
	}

	src, dst := ip.SrcAddr(), ip.DstAddr()
	for pcb := range n.stack.pcbs {
		if pcb.matches(fromV4(dst), seg.DstPort(), fromV4(src), seg.SrcPort()) {
			pcb.onSegment(n, seg, src)
			return ErrOK
		}
	}

	if l, ok := n.stack.listeners[seg.DstPort()]; ok && seg.SYN() && !seg.ACK() {
		l.onListenSYN(n, seg, src, dst)
		return ErrOK
	}

	return ErrOK // no match: a real stack answers RST; dropping is acceptable for the reference sim
}

type simPCB struct {
	stack  *Sim
	netIf  *simNetIf
	state  tcpState
	arg    interface{}
	errFn       ErrFunc
	recvFn      RecvFunc
	sentFn      SentFunc
	acptFn      AcceptFunc
	connectedFn ConnectedFunc

	local, remote         IPAddr
	localPort, remotePort uint16

	sndBufCap, sndBuf int
	unacked           []byte
	sndNext, sndUna   uint32
	rcvNext           uint32

	flags Flags

	backlog int
}

func (p *simPCB) matches(localIP IPAddr, localPort uint16, remoteIP IPAddr, remotePort uint16) bool {
	if p.state == stateClosed || p.backlog > 0 {
		return false
	}
	return p.localPort == localPort && p.remotePort == remotePort && p.remote == remoteIP
}

func (p *simPCB) SetArg(arg interface{}) { p.arg = arg }
func (p *simPCB) Arg() interface{}       { return p.arg }

func (p *simPCB) SetErrFunc(f ErrFunc)     { p.errFn = f }
func (p *simPCB) SetRecvFunc(f RecvFunc)   { p.recvFn = f }
func (p *simPCB) SetSentFunc(f SentFunc)   { p.sentFn = f }
func (p *simPCB) SetAcceptFunc(f AcceptFunc) { p.acptFn = f }

func (p *simPCB) Bind(local IPAddr, port uint16) Err {
	p.local, p.localPort = local, port
	return ErrOK
}

func (p *simPCB) Connect(remote IPAddr, port uint16, cb ConnectedFunc) Err {
	p.remote, p.remotePort = remote, port
	if p.localPort == 0 {
		p.localPort = ephemeralPort()
	}
	p.state = stateSynSent
	p.connectedFn = cb
	p.netIf = p.netIfOrDefault()
	p.send(p.netIf, wire.TCPSegment{SYN: true, Seq: p.sndNext})
	p.sndNext++
	return ErrOK
}

// Listen mirrors tcp_listen: the listening pcb is keyed only by local port
// in the stack-wide listen table, matching lwIP's listen pcbs which are not
// tied to a single interface.
func (p *simPCB) Listen(backlog int) (PCB, Err) {
	p.backlog = backlog
	p.state = stateClosed
	p.stack.listeners[p.localPort] = p
	return p, ErrOK
}

func (p *simPCB) Abort() {
	delete(p.stack.pcbs, p)
	p.unlisten()
}

func (p *simPCB) Close() Err {
	delete(p.stack.pcbs, p)
	p.unlisten()
	return ErrOK
}

func (p *simPCB) unlisten() {
	if p.backlog > 0 && p.stack.listeners[p.localPort] == p {
		delete(p.stack.listeners, p.localPort)
	}
}

func (p *simPCB) Shutdown(rx, tx bool) Err {
	if rx {
		p.SetFlags(FlagRXClosed)
	}
	if tx && !p.HasFlag(FlagFin) {
		p.send(p.netIfOrDefault(), wire.TCPSegment{FIN: true, ACK: true, Seq: p.sndNext, Ack: p.rcvNext})
		p.sndNext++
		p.SetFlags(FlagFin)
	}
	return ErrOK
}

func (p *simPCB) Write(data []byte, flags WriteFlags) Err {
	if len(data) > p.sndBuf {
		return ErrMem
	}
	p.unacked = append(p.unacked, data...)
	p.sndBuf -= len(data)
	return ErrOK
}

func (p *simPCB) Output() Err {
	if len(p.unacked) == 0 {
		return ErrOK
	}
	data := p.unacked
	p.unacked = nil
	p.send(p.netIfOrDefault(), wire.TCPSegment{ACK: true, PSH: true, Seq: p.sndNext, Ack: p.rcvNext, Payload: data})
	p.sndNext += uint32(len(data))
	return ErrOK
}

func (p *simPCB) Recved(n int) {}

func (p *simPCB) SndBuf() int { return p.sndBuf }
func (p *simPCB) MSS() int    { return 1460 }

func (p *simPCB) SetFlags(f Flags)      { p.flags |= f }
func (p *simPCB) ClearFlags(f Flags)    { p.flags &^= f }
func (p *simPCB) HasFlag(f Flags) bool  { return p.flags&f != 0 }

func (p *simPCB) LocalAddr() IPAddr    { return p.local }
func (p *simPCB) LocalPort() uint16    { return p.localPort }
func (p *simPCB) RemoteAddr() IPAddr   { return p.remote }
func (p *simPCB) RemotePort() uint16   { return p.remotePort }

// netIfOrDefault resolves the interface a pcb sends on. A pcb created via
// Listen's accept path already carries the interface that received the SYN;
// a pcb driving an outbound Connect never had one assigned, so it falls
// back to the stack's sole registered interface (this reference stack
// supports exactly one device).
func (p *simPCB) netIfOrDefault() *simNetIf {
	if p.netIf != nil {
		return p.netIf
	}
	return p.stack.defaultNIf
}

func (p *simPCB) send(n *simNetIf, seg wire.TCPSegment) {
	if n == nil || n.output == nil {
		return
	}
	seg.SrcAddr, seg.DstAddr = toV4(p.local), toV4(p.remote)
	seg.SrcPort, seg.DstPort = p.localPort, p.remotePort
	n.output(wire.BuildTCP(seg))
}

func (p *simPCB) onListenSYN(n *simNetIf, seg wire.TCP, src, dst [4]byte) {
	child := n.stack.NewPCB().(*simPCB)
	child.netIf = n
	child.local, child.localPort = fromV4(dst), seg.DstPort()
	child.remote, child.remotePort = fromV4(src), seg.SrcPort()
	child.rcvNext = seg.SeqNum() + 1
	child.sndNext = rand.Uint32()
	child.state = stateSynRcvd
	child.send(n, wire.TCPSegment{SYN: true, ACK: true, Seq: child.sndNext, Ack: child.rcvNext})
	child.sndNext++

	if p.acptFn != nil {
		p.acptFn(child, ErrOK)
	}
}

func (p *simPCB) onSegment(n *simNetIf, seg wire.TCP, src [4]byte) {
	switch {
	case seg.RST():
		if p.errFn != nil {
			p.errFn(ErrRst)
		}
		delete(p.stack.pcbs, p)
		return
	case p.state == stateSynSent && seg.SYN() && seg.ACK():
		p.rcvNext = seg.SeqNum() + 1
		p.sndUna = seg.AckNum()
		p.state = stateEstablished
		p.send(n, wire.TCPSegment{ACK: true, Seq: p.sndNext, Ack: p.rcvNext})
		if p.connectedFn != nil {
			p.connectedFn(p, ErrOK)
		}
		return
	case p.state == stateSynRcvd && seg.ACK():
		p.state = stateEstablished
		p.sndUna = seg.AckNum()
		return
	}

	if seg.ACK() {
		acked := seg.AckNum() - p.sndUna
		p.sndUna = seg.AckNum()
		if len(seg.Payload()) == 0 && !seg.FIN() && p.sentFn != nil {
			p.sentFn(p, int(acked))
		}
	}

	if payload := seg.Payload(); len(payload) > 0 {
		p.rcvNext = seg.SeqNum() + uint32(len(payload))
		if p.recvFn != nil {
			pb := PbufAlloc(len(payload))
			pb.Take(payload)
			p.recvFn(p, pb, ErrOK)
		}
		p.send(n, wire.TCPSegment{ACK: true, Seq: p.sndNext, Ack: p.rcvNext})
	}

	if seg.FIN() {
		p.rcvNext = seg.SeqNum() + 1
		p.send(n, wire.TCPSegment{ACK: true, Seq: p.sndNext, Ack: p.rcvNext})
		if p.recvFn != nil {
			p.recvFn(p, nil, ErrOK)
		}
	}
}

func ephemeralPort() uint16 {
	return uint16(32768 + rand.Intn(28000))
}

func toV4(a IPAddr) [4]byte {
	var b [4]byte
	copy(b[:], a.Addr[:4])
	return b
}

func fromV4(b [4]byte) IPAddr {
	return V4(b[0], b[1], b[2], b[3])
}
