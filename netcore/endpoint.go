package netcore

import (
	"fmt"

	"github.com/netdriver/tunbridge/addr"
)

// ErrorSource identifies which layer raised an Endpoint's last error.
type ErrorSource uint8

const (
	ErrorSourceNone ErrorSource = iota
	ErrorSourceNetwork
)

// EndpointError is the (source, code, message) triple net_endpoint_set_error
// records. Code is driver-defined (the original uses small netdriver errno
// values like net_endpoint_network_errno_internal); this port keeps it a
// string since the driver package is the only code that ever sets one.
type EndpointError struct {
	Source  ErrorSource
	Code    string
	Message string
}

func (e EndpointError) String() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Endpoint is the runtime's view of a single connection: lifecycle state,
// the read/write byte queues the application side drains and fills, and the
// handful of flags net_tun_endpoint.c consults on every callback. A driver
// package instance owns exactly one of these per bridged PCB.
type Endpoint struct {
	id int

	state State
	err   *EndpointError

	local, remote   addr.Address
	hasLocal        bool
	hasRemote       bool

	readable  bool
	writeable bool
	writing   bool

	read  streamBuffer
	write streamBuffer
}

// NewEndpoint constructs an Endpoint in StateConnecting with both
// directions open, matching a freshly created net_endpoint_t before a
// driver's connect() has run.
func NewEndpoint(id int) *Endpoint {
	return &Endpoint{id: id, state: StateConnecting, readable: true, writeable: true}
}

func (e *Endpoint) ID() int { return e.id }

func (e *Endpoint) State() State { return e.state }

// SetState attempts the transition and reports whether it was accepted.
// Mirrors net_endpoint_set_state returning 0 on success, non-zero on a
// rejected transition — callers that get false here force state_deleting
// themselves, same as the original's every call site.
func (e *Endpoint) SetState(s State) bool {
	if !allowed(e.state, s) {
		return false
	}
	e.state = s
	return true
}

func (e *Endpoint) IsReadable() bool  { return e.readable }
func (e *Endpoint) IsWriteable() bool { return e.writeable }
func (e *Endpoint) IsWriting() bool   { return e.writing }

func (e *Endpoint) SetIsWriting(w bool) { e.writing = w }

func (e *Endpoint) IsActive() bool {
	switch e.state {
	case StateError, StateDeleting:
		return false
	default:
		return true
	}
}

func (e *Endpoint) HaveError() bool { return e.err != nil }

func (e *Endpoint) SetError(source ErrorSource, code, message string) {
	if e.err != nil {
		return
	}
	e.err = &EndpointError{Source: source, Code: code, Message: message}
}

func (e *Endpoint) Error() *EndpointError { return e.err }

func (e *Endpoint) Address() (addr.Address, bool)       { return e.local, e.hasLocal }
func (e *Endpoint) RemoteAddress() (addr.Address, bool) { return e.remote, e.hasRemote }

func (e *Endpoint) SetAddress(a addr.Address) { e.local, e.hasLocal = a, true }
func (e *Endpoint) SetRemoteAddress(a addr.Address) { e.remote, e.hasRemote = a, true }

// BufKind selects which of the endpoint's two sub-buffers an operation
// targets, mirroring net_ep_buf_read / net_ep_buf_write.
type BufKind uint8

const (
	BufRead BufKind = iota
	BufWrite
)

func (e *Endpoint) buf(kind BufKind) *streamBuffer {
	if kind == BufRead {
		return &e.read
	}
	return &e.write
}

// BufAllocAtLeast mirrors net_endpoint_buf_alloc_at_least: hand back a
// scratch slice of at least n bytes for the caller to fill before calling
// BufSupply. The reference implementation never fails to allocate (no fixed
// pool), unlike the original which can run out of pooled buffer space.
func (e *Endpoint) BufAllocAtLeast(kind BufKind, n int) []byte {
	return e.buf(kind).allocAtLeast(n)
}

// BufSupply commits the first n bytes of a prior BufAllocAtLeast result. It
// reports false, leaving the buffer unchanged, if adding n bytes would take
// the buffer past its capacity (maxBufSize).
func (e *Endpoint) BufSupply(kind BufKind, scratch []byte, n int) bool {
	return e.buf(kind).supply(scratch, n)
}

// BufAppend appends already-owned data directly, for callers (like Write)
// that don't need the alloc/supply split.
func (e *Endpoint) BufAppend(kind BufKind, data []byte) {
	e.buf(kind).append(data)
}

func (e *Endpoint) BufSize(kind BufKind) int     { return e.buf(kind).size() }
func (e *Endpoint) BufIsEmpty(kind BufKind) bool { return e.buf(kind).isEmpty() }

func (e *Endpoint) BufPeekWithSize(kind BufKind, size int) []byte {
	return e.buf(kind).peekWithSize(size)
}

func (e *Endpoint) BufConsume(kind BufKind, n int) {
	e.buf(kind).consume(n)
}

// Dump renders a short identifier for log lines, the Go analog of
// net_endpoint_dump.
func (e *Endpoint) Dump() string {
	if e.hasRemote {
		return fmt.Sprintf("ep#%d(%s<->%s)", e.id, e.local, e.remote)
	}
	return fmt.Sprintf("ep#%d(%s)", e.id, e.local)
}
