// Package wire provides the minimal IPv4/TCP header codec the reference
// stack implementation (lwip.Sim) needs to demultiplex inbound datagrams
// and build outbound ones. It is a trimmed, from-scratch analog of the
// teacher's header package (byte-slice-as-struct accessor style), kept
// narrow because the embedded TCP/IP stack is an external collaborator —
// this exists only so the sample command has something to run against
// without linking a real lwIP binding.
package wire

import "encoding/binary"

const (
	IPv4HeaderLen  = 20
	TCPHeaderLen   = 20
	ProtocolTCP    = 6
	ipv4TTL        = 64
	flagFIN uint8  = 1 << 0
	flagSYN uint8  = 1 << 1
	flagRST uint8  = 1 << 2
	flagPSH uint8  = 1 << 3
	flagACK uint8  = 1 << 4
)

// IPv4 is a read/write view over an IPv4 header.
type IPv4 []byte

func (h IPv4) Valid() bool {
	return len(h) >= IPv4HeaderLen && h[0]>>4 == 4
}

func (h IPv4) HeaderLen() int      { return int(h[0]&0x0f) * 4 }
func (h IPv4) Protocol() uint8     { return h[9] }
func (h IPv4) SrcAddr() [4]byte    { var a [4]byte; copy(a[:], h[12:16]); return a }
func (h IPv4) DstAddr() [4]byte    { var a [4]byte; copy(a[:], h[16:20]); return a }
func (h IPv4) Payload() []byte     { return h[h.HeaderLen():] }
func (h IPv4) TotalLen() int       { return int(binary.BigEndian.Uint16(h[2:4])) }

// BuildIPv4 writes a minimal 20-byte IPv4 header followed by payload into a
// fresh buffer and fixes up the checksum.
func BuildIPv4(src, dst [4]byte, payload []byte) []byte {
	total := IPv4HeaderLen + len(payload)
	b := make([]byte, total)
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(total))
	b[8] = ipv4TTL
	b[9] = ProtocolTCP
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	binary.BigEndian.PutUint16(b[10:12], ipv4Checksum(b[:IPv4HeaderLen]))
	copy(b[IPv4HeaderLen:], payload)
	return b
}

func ipv4Checksum(h []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(h); i += 2 {
		if i == 10 {
			continue // checksum field itself reads as zero
		}
		sum += uint32(h[i])<<8 | uint32(h[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
