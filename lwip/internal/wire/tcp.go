package wire

import "encoding/binary"

// TCP is a read/write view over a TCP segment (header + payload).
type TCP []byte

func (h TCP) SrcPort() uint16   { return binary.BigEndian.Uint16(h[0:2]) }
func (h TCP) DstPort() uint16   { return binary.BigEndian.Uint16(h[2:4]) }
func (h TCP) SeqNum() uint32    { return binary.BigEndian.Uint32(h[4:8]) }
func (h TCP) AckNum() uint32    { return binary.BigEndian.Uint32(h[8:12]) }
func (h TCP) DataOffset() int   { return int(h[12]>>4) * 4 }
func (h TCP) Flags() uint8      { return h[13] }
func (h TCP) SYN() bool         { return h.Flags()&flagSYN != 0 }
func (h TCP) ACK() bool         { return h.Flags()&flagACK != 0 }
func (h TCP) FIN() bool         { return h.Flags()&flagFIN != 0 }
func (h TCP) RST() bool         { return h.Flags()&flagRST != 0 }
func (h TCP) Payload() []byte   { return h[h.DataOffset():] }

// TCPSegment describes a segment to build with BuildTCP.
type TCPSegment struct {
	SrcAddr, DstAddr       [4]byte
	SrcPort, DstPort       uint16
	Seq, Ack               uint32
	SYN, ACK, FIN, RST, PSH bool
	Payload                []byte
}

// BuildTCP renders a TCP segment with a valid checksum (computed over the
// IPv4 pseudo-header) and wraps it in an IPv4 datagram.
func BuildTCP(s TCPSegment) []byte {
	h := make([]byte, TCPHeaderLen+len(s.Payload))
	binary.BigEndian.PutUint16(h[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(h[2:4], s.DstPort)
	binary.BigEndian.PutUint32(h[4:8], s.Seq)
	binary.BigEndian.PutUint32(h[8:12], s.Ack)
	h[12] = byte(TCPHeaderLen/4) << 4
	var flags uint8
	if s.FIN {
		flags |= flagFIN
	}
	if s.SYN {
		flags |= flagSYN
	}
	if s.RST {
		flags |= flagRST
	}
	if s.PSH {
		flags |= flagPSH
	}
	if s.ACK {
		flags |= flagACK
	}
	h[13] = flags
	binary.BigEndian.PutUint16(h[14:16], 65535) // window
	copy(h[TCPHeaderLen:], s.Payload)

	binary.BigEndian.PutUint16(h[16:18], tcpChecksum(s.SrcAddr, s.DstAddr, h))

	return BuildIPv4(s.SrcAddr, s.DstAddr, h)
}

func tcpChecksum(src, dst [4]byte, seg []byte) uint16 {
	var sum uint32
	sum += uint32(src[0])<<8 | uint32(src[1])
	sum += uint32(src[2])<<8 | uint32(src[3])
	sum += uint32(dst[0])<<8 | uint32(dst[1])
	sum += uint32(dst[2])<<8 | uint32(dst[3])
	sum += ProtocolTCP
	sum += uint32(len(seg))
	for i := 0; i+1 < len(seg); i += 2 {
		if i == 16 {
			continue
		}
		sum += uint32(seg[i])<<8 | uint32(seg[i+1])
	}
	if len(seg)%2 == 1 {
		sum += uint32(seg[len(seg)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
