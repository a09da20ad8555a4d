// Package lwip is the Go-side restatement of the embedded TCP/IP stack's
// consumed contract: a PCB (protocol control block) with four callback
// slots, the tcp_* verb set, a refcounted packet buffer, and lwIP's
// ERR_* error space. It mirrors, call for call, the API
// driver_tun/src/net_tun_endpoint.c is written against in the original
// source this driver was distilled from.
//
// This package has no implementation of TCP itself — that work belongs to
// the embedded stack, an external collaborator (spec §1). A production
// build wires a cgo binding to lwIP behind this same surface, the way
// github.com/eycorsican/go-tun2socks does for its own (higher-level)
// TCPConnHandler API; see DESIGN.md for why that package's exported shape
// can't be imported here directly.
package lwip

// Err is lwIP's err_t. Zero value is ERR_OK.
type Err int8

const (
	ErrOK Err = iota
	ErrMem
	ErrAbrt
	ErrRst
	ErrConn
	ErrArg
	ErrUse
)

// Strerror mirrors lwIP's lwip_strerr.
func Strerror(e Err) string {
	switch e {
	case ErrOK:
		return "no error"
	case ErrMem:
		return "out of memory"
	case ErrAbrt:
		return "connection aborted"
	case ErrRst:
		return "connection reset"
	case ErrConn:
		return "not connected"
	case ErrArg:
		return "illegal argument"
	case ErrUse:
		return "address in use"
	default:
		return "unknown error"
	}
}

func (e Err) Error() string {
	return Strerror(e)
}
