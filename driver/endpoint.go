package driver

import (
	"github.com/netdriver/tunbridge/addr"
	"github.com/netdriver/tunbridge/lwip"
	"github.com/netdriver/tunbridge/netcore"
)

// Endpoint is C4, the heart of the driver: it pairs a runtime-facing
// netcore.Endpoint with a lwip.PCB and mediates between the two worlds'
// callbacks and state machines. setPCB is the one place pcb is set; the
// only other write is onErr clearing it after the stack has released it.
type Endpoint struct {
	driver *Driver
	device *Device
	base   *netcore.Endpoint

	pcb        lwip.PCB
	pcbAborted bool
}

func newEndpoint(d *Driver, dev *Device) *Endpoint {
	return &Endpoint{
		driver: d,
		device: dev,
		base:   netcore.NewEndpoint(d.allocEndpointID()),
	}
}

// Base exposes the runtime-facing endpoint (state, buffers, flags) for
// callers that read/write the connection.
func (e *Endpoint) Base() *netcore.Endpoint { return e.base }

func (e *Endpoint) ID() int { return e.base.ID() }

// setPCB is the mutator of e.pcb (§4.3.1); onErr alone bypasses it to
// clear a pcb the stack has already released. It detaches the old pcb's
// callbacks first, then optionally aborts it, then installs the new one —
// that ordering is what keeps an abort from re-entering a callback that is
// still wired to this endpoint.
func (e *Endpoint) setPCB(newPCB lwip.PCB, doAbort bool) {
	if e.pcb != nil {
		old := e.pcb
		old.SetErrFunc(nil)
		old.SetRecvFunc(nil)
		old.SetSentFunc(nil)
		e.pcb = nil

		if doAbort {
			e.pcbAborted = true
			old.Abort()
		}
	}

	e.pcb = newPCB

	if e.pcb != nil {
		e.pcbAborted = false
		e.pcb.SetArg(e)
		e.pcb.SetErrFunc(e.onErr)
		e.pcb.SetRecvFunc(e.onRecv)
		e.pcb.SetSentFunc(e.onSent)
	}
}

// abortReturn is the ERR_ABRT/ERR_OK discipline every callback that runs to
// completion without detaching must follow (§4.3.3, P3).
func (e *Endpoint) abortReturn() lwip.Err {
	if e.pcbAborted {
		return lwip.ErrAbrt
	}
	return lwip.ErrOK
}

// Connect is C4's outbound connect (§4.3.2): create a fresh endpoint bound
// to a new pcb and start the TCP handshake toward remote.
func (dev *Device) Connect(local addr.Address, hasLocal bool, remote addr.Address) (*Endpoint, error) {
	d := dev.driver
	ep := newEndpoint(d, dev)

	pcb := d.stack.NewPCB()

	if hasLocal {
		localIP, err := addr.ToLWIP(local)
		if err != nil {
			pcb.Abort()
			return nil, err
		}
		if errCode := pcb.Bind(localIP, local.Port); errCode != lwip.ErrOK {
			pcb.Abort()
			return nil, errCode
		}
	}

	remoteIP, err := addr.ToLWIP(remote)
	if err != nil {
		pcb.Abort()
		return nil, err
	}

	if errCode := pcb.Connect(remoteIP, remote.Port, ep.onConnected); errCode != lwip.ErrOK {
		pcb.Abort()
		return nil, errCode
	}

	if hasLocal {
		local.Port = pcb.LocalPort()
		ep.base.SetAddress(local)
	} else {
		ep.base.SetAddress(addr.FromLWIP(pcb.LocalAddr(), pcb.LocalPort()))
	}
	ep.base.SetRemoteAddress(remote)

	ep.setPCB(pcb, true)
	dev.registerEndpoint(ep)

	if !ep.base.SetState(netcore.StateConnecting) {
		ep.base.SetState(netcore.StateDeleting)
	}

	return ep, nil
}

// acceptEndpoint wraps an already-handshaking pcb the stack created from an
// inbound SYN (via the listener's accept callback). It skips the bind/
// connect steps of Connect but otherwise joins the pcb the same way.
func (dev *Device) acceptEndpoint(pcb lwip.PCB) *Endpoint {
	d := dev.driver
	ep := newEndpoint(d, dev)

	ep.base.SetAddress(addr.FromLWIP(pcb.LocalAddr(), pcb.LocalPort()))
	ep.base.SetRemoteAddress(addr.FromLWIP(pcb.RemoteAddr(), pcb.RemotePort()))

	ep.setPCB(pcb, true)
	dev.registerEndpoint(ep)

	if !ep.base.SetState(netcore.StateEstablished) {
		ep.base.SetState(netcore.StateDeleting)
	}

	return ep
}

// onConnected is tcp_connect's callback (§4.3.3 "connected").
func (e *Endpoint) onConnected(pcb lwip.PCB, err lwip.Err) lwip.Err {
	if err != lwip.ErrOK {
		e.setPCB(nil, true)
		e.base.SetError(netcore.ErrorSourceNetwork, "internal", lwip.Strerror(err))
		if !e.base.SetState(netcore.StateError) {
			e.base.SetState(netcore.StateDeleting)
		}
		return lwip.ErrAbrt
	}

	if !e.base.SetState(netcore.StateEstablished) {
		e.base.SetState(netcore.StateDeleting)
		return lwip.ErrAbrt
	}
	return lwip.ErrOK
}

// onRecv is tcp_recv's callback (§4.3.3 "recv").
//
// err is asserted ERR_OK: lwIP itself never calls this with a non-OK err,
// and a production cgo binding carries that same guarantee — a violation
// here means the embedded stack broke its contract, not a recoverable
// runtime condition.
func (e *Endpoint) onRecv(pcb lwip.PCB, p *lwip.Pbuf, err lwip.Err) lwip.Err {
	if err != lwip.ErrOK {
		panic("driver: recv callback invoked with non-OK err, violates stack contract")
	}

	if !e.base.IsReadable() {
		if p != nil {
			p.Free()
		}
		return lwip.ErrOK
	}

	if p == nil {
		switch e.base.State() {
		case netcore.StateEstablished:
			if !e.base.SetState(netcore.StateReadClosed) {
				e.base.SetState(netcore.StateDeleting)
				return lwip.ErrAbrt
			}
		case netcore.StateWriteClosed:
			if !e.base.SetState(netcore.StateDisable) {
				e.base.SetState(netcore.StateDeleting)
				return lwip.ErrAbrt
			}
		default:
			panic("driver: recv(nil) in a state other than established or write_closed")
		}
		return e.abortReturn()
	}

	totalLen := p.TotLen
	if totalLen <= 0 {
		panic("driver: recv callback invoked with an empty pbuf")
	}

	data := e.base.BufAllocAtLeast(netcore.BufRead, totalLen)
	p.CopyPartial(data, totalLen, 0)
	p.Free()

	pcb.Recved(totalLen)

	if !e.base.BufSupply(netcore.BufRead, data, totalLen) {
		e.base.SetError(netcore.ErrorSourceNetwork, "internal", "read buffer full, buf_supply rejected")
		if !e.base.SetState(netcore.StateError) {
			e.base.SetState(netcore.StateDeleting)
			return lwip.ErrAbrt
		}
	}

	return e.abortReturn()
}

// onSent is tcp_sent's callback (§4.3.3 "sent").
func (e *Endpoint) onSent(pcb lwip.PCB, length int) lwip.Err {
	if err := e.doWrite(); err != nil {
		e.base.SetError(netcore.ErrorSourceNetwork, "internal", err.Error())
		if !e.base.SetState(netcore.StateError) {
			e.base.SetState(netcore.StateDeleting)
			return lwip.ErrAbrt
		}
	}

	if e.base.State() == netcore.StateEstablished && e.pcb != nil && e.base.IsWriting() && e.pcb.SndBuf() > 0 {
		e.base.SetIsWriting(false)
	}

	return e.abortReturn()
}

// onErr is tcp_err's callback (§4.3.3 "err"). The stack has already
// detached the pcb's callbacks by the time this runs, so pcb is cleared
// directly rather than through setPCB.
func (e *Endpoint) onErr(err lwip.Err) {
	e.pcb = nil

	if err == lwip.ErrRst {
		e.base.SetError(netcore.ErrorSourceNetwork, "remote_reset", "")
		if !e.base.SetState(netcore.StateDisable) {
			e.base.SetState(netcore.StateDeleting)
		}
		return
	}

	e.base.SetError(netcore.ErrorSourceNetwork, "internal", lwip.Strerror(err))
	if !e.base.SetState(netcore.StateError) {
		e.base.SetState(netcore.StateDeleting)
	}
}

// doWrite drains the write buffer into the pcb (§4.3.4).
func (e *Endpoint) doWrite() error {
	if e.pcb == nil {
		return nil
	}

	for e.base.IsWriteable() && !e.base.BufIsEmpty(netcore.BufWrite) {
		n := e.base.BufSize(netcore.BufWrite)
		if sndBuf := e.pcb.SndBuf(); n > sndBuf {
			n = sndBuf
		}
		if n == 0 {
			e.base.SetIsWriting(true)
			break
		}

		data := e.base.BufPeekWithSize(netcore.BufWrite, n)

		errCode := e.pcb.Write(data, lwip.WriteFlagCopy)
		if errCode != lwip.ErrOK {
			if errCode == lwip.ErrMem {
				break
			}
			return errCode
		}

		e.base.BufConsume(netcore.BufWrite, n)
	}

	if e.base.IsWriteable() {
		if errCode := e.pcb.Output(); errCode != lwip.ErrOK {
			return errCode
		}
	}

	return nil
}

// Write appends data to the endpoint's write buffer and immediately tries
// to drain it, the runtime-facing half of the write path (§2's "Outbound").
func (e *Endpoint) Write(data []byte) error {
	e.base.BufAppend(netcore.BufWrite, data)
	return e.doWrite()
}

// update is C4's state-driven action dispatcher (§4.3.5).
func (e *Endpoint) update() error {
	if e.pcb == nil {
		return nil
	}

	switch e.base.State() {
	case netcore.StateReadClosed:
		if e.pcb.HasFlag(lwip.FlagRXClosed) {
			return nil
		}
		if errCode := e.pcb.Shutdown(true, false); errCode != lwip.ErrOK {
			return errCode
		}
		return nil

	case netcore.StateWriteClosed:
		if e.pcb.HasFlag(lwip.FlagFin) {
			return nil
		}
		if errCode := e.pcb.Shutdown(false, true); errCode != lwip.ErrOK {
			return errCode
		}
		return nil

	case netcore.StateError:
		if errCode := e.pcb.Close(); errCode != lwip.ErrOK {
			return errCode
		}
		e.setPCB(nil, true)
		return nil

	case netcore.StateDisable:
		rx := !e.pcb.HasFlag(lwip.FlagRXClosed)
		tx := !e.pcb.HasFlag(lwip.FlagFin)
		if rx || tx {
			if errCode := e.pcb.Shutdown(rx, tx); errCode != lwip.ErrOK {
				return errCode
			}
		}
		e.setPCB(nil, false)
		return nil

	case netcore.StateEstablished:
		if !e.base.BufIsEmpty(netcore.BufWrite) {
			return e.doWrite()
		}
		return nil

	default:
		return nil
	}
}

// SetNoDelay toggles the pcb's Nagle flag (§4.4).
func (e *Endpoint) SetNoDelay(enable bool) {
	if e.pcb == nil {
		panic("driver: SetNoDelay on an endpoint with no pcb")
	}
	if enable {
		e.pcb.SetFlags(lwip.FlagNoDelay)
	} else {
		e.pcb.ClearFlags(lwip.FlagNoDelay)
	}
}

// MSS returns tcp_mss(pcb) (§4.4).
func (e *Endpoint) MSS() int {
	if e.pcb == nil {
		panic("driver: MSS on an endpoint with no pcb")
	}
	return e.pcb.MSS()
}

// CalcWriteCapacity reports the write-side capacity hint from §4.4:
// pcb.snd_buf when connected, else 0. The read-side hint is always 0
// because the stack controls inbound windowing via tcp_recved.
func (e *Endpoint) CalcWriteCapacity() int {
	if e.pcb == nil {
		return 0
	}
	return e.pcb.SndBuf()
}

// Close tears the endpoint down from the runtime side: detach and abort
// the pcb (if any) and forget the endpoint on its device.
func (e *Endpoint) Close() {
	e.setPCB(nil, true)
	e.device.forgetEndpoint(e.ID())
}
