package driver

import (
	"testing"

	"github.com/netdriver/tunbridge/lwip"
	"github.com/netdriver/tunbridge/netcore"
)

// fakePCB is a scripted lwip.PCB: tests drive its callbacks directly and
// assert on what the endpoint bridge did in response, the same "call the
// callback, inspect state" style as the teacher's transport/tcp tests
// drive a real pcb through a fake context.
type fakePCB struct {
	arg    interface{}
	errFn  lwip.ErrFunc
	recvFn lwip.RecvFunc
	sentFn lwip.SentFunc

	local, remote         lwip.IPAddr
	localPort, remotePort uint16

	sndBuf   int
	mss      int
	flags    lwip.Flags
	aborted  bool
	closed   bool
	closeErr lwip.Err // error to return from next Close call, reset after use
	shutdown struct{ rx, tx bool }

	writes [][]byte
	writeErr lwip.Err // error to return from next Write call, reset after use
	outputCalls int
	outputErr   lwip.Err
	recved      int // total bytes reported through Recved
}

func newFakePCB() *fakePCB {
	return &fakePCB{sndBuf: 1500, mss: 1460}
}

func (p *fakePCB) SetArg(arg interface{}) { p.arg = arg }
func (p *fakePCB) Arg() interface{}       { return p.arg }

func (p *fakePCB) SetErrFunc(f lwip.ErrFunc)   { p.errFn = f }
func (p *fakePCB) SetRecvFunc(f lwip.RecvFunc) { p.recvFn = f }
func (p *fakePCB) SetSentFunc(f lwip.SentFunc) { p.sentFn = f }

func (p *fakePCB) Bind(local lwip.IPAddr, port uint16) lwip.Err {
	p.local, p.localPort = local, port
	return lwip.ErrOK
}

func (p *fakePCB) Connect(remote lwip.IPAddr, port uint16, cb lwip.ConnectedFunc) lwip.Err {
	p.remote, p.remotePort = remote, port
	return lwip.ErrOK
}

func (p *fakePCB) Abort() { p.aborted = true }

func (p *fakePCB) Close() lwip.Err {
	if p.closeErr != lwip.ErrOK {
		err := p.closeErr
		p.closeErr = lwip.ErrOK
		return err
	}
	p.closed = true
	return lwip.ErrOK
}

func (p *fakePCB) Shutdown(rx, tx bool) lwip.Err {
	if rx {
		p.SetFlags(lwip.FlagRXClosed)
		p.shutdown.rx = true
	}
	if tx {
		p.SetFlags(lwip.FlagFin)
		p.shutdown.tx = true
	}
	return lwip.ErrOK
}

// Write mimics a real pcb's tcp_write: accepted data immediately reduces
// the reported send-buffer room, the way tcp_sndbuf() reflects unacked and
// queued-unsent bytes rather than just queued-unsent ones.
func (p *fakePCB) Write(data []byte, flags lwip.WriteFlags) lwip.Err {
	if p.writeErr != lwip.ErrOK {
		err := p.writeErr
		p.writeErr = lwip.ErrOK
		return err
	}
	cp := append([]byte(nil), data...)
	p.writes = append(p.writes, cp)
	p.sndBuf -= len(data)
	return lwip.ErrOK
}

func (p *fakePCB) Output() lwip.Err {
	p.outputCalls++
	return p.outputErr
}

func (p *fakePCB) Recved(n int) { p.recved += n }

func (p *fakePCB) SndBuf() int { return p.sndBuf }
func (p *fakePCB) MSS() int    { return p.mss }

func (p *fakePCB) SetFlags(f lwip.Flags)     { p.flags |= f }
func (p *fakePCB) ClearFlags(f lwip.Flags)   { p.flags &^= f }
func (p *fakePCB) HasFlag(f lwip.Flags) bool { return p.flags&f != 0 }

func (p *fakePCB) LocalAddr() lwip.IPAddr  { return p.local }
func (p *fakePCB) LocalPort() uint16       { return p.localPort }
func (p *fakePCB) RemoteAddr() lwip.IPAddr { return p.remote }
func (p *fakePCB) RemotePort() uint16      { return p.remotePort }

func (p *fakePCB) Listen(backlog int) (lwip.PCB, lwip.Err) { return p, lwip.ErrOK }
func (p *fakePCB) SetAcceptFunc(lwip.AcceptFunc)           {}

// testEndpoint builds a driver.Endpoint wired to a fakePCB without going
// through Connect/acceptEndpoint, so tests can drive callbacks from any
// starting state.
func testEndpoint(pcb *fakePCB) *Endpoint {
	d := New(nil, nil)
	ep := newEndpoint(d, nil)
	ep.setPCB(pcb, false)
	return ep
}

func TestSetPCBWiresCallbacks(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)

	if pcb.arg != ep {
		t.Fatalf("arg = %v, want endpoint", pcb.arg)
	}
	if pcb.errFn == nil || pcb.recvFn == nil || pcb.sentFn == nil {
		t.Fatal("setPCB did not wire all three callbacks")
	}
	if ep.pcbAborted {
		t.Fatal("pcbAborted should be false after a non-abort setPCB")
	}
}

func TestSetPCBDetachAndAbort(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)

	ep.setPCB(nil, true)

	if pcb.errFn != nil || pcb.recvFn != nil || pcb.sentFn != nil {
		t.Fatal("setPCB(nil, true) must clear the old pcb's callbacks")
	}
	if !pcb.aborted {
		t.Fatal("setPCB(nil, true) must abort the old pcb")
	}
	if !ep.pcbAborted {
		t.Fatal("pcbAborted must be set after an aborting setPCB")
	}
	if ep.pcb != nil {
		t.Fatal("ep.pcb must be nil after setPCB(nil, ...)")
	}
}

// TestRecvDataDeliversAndAcks is scenario 1's recv half (P2): every byte
// delivered to buf_supply must have been reported via tcp_recved first.
func TestRecvDataDeliversAndAcks(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	payload := []byte("hello")
	pb := lwip.PbufAlloc(len(payload))
	pb.Take(payload)

	errCode := ep.onRecv(pcb, pb, lwip.ErrOK)
	if errCode != lwip.ErrOK {
		t.Fatalf("onRecv returned %v, want ErrOK", errCode)
	}

	if got := ep.base.BufSize(netcore.BufRead); got != len(payload) {
		t.Fatalf("read buffer size = %d, want %d", got, len(payload))
	}
	got := ep.base.BufPeekWithSize(netcore.BufRead, len(payload))
	if string(got) != string(payload) {
		t.Fatalf("read buffer contents = %q, want %q", got, payload)
	}
	if pcb.recved != len(payload) {
		t.Fatalf("tcp_recved reported %d bytes, want %d", pcb.recved, len(payload))
	}
}

// TestRecvNilEstablishedToReadClosed covers scenario 2's first half.
func TestRecvNilEstablishedToReadClosed(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	errCode := ep.onRecv(pcb, nil, lwip.ErrOK)
	if errCode != lwip.ErrOK {
		t.Fatalf("onRecv(nil) returned %v, want ErrOK", errCode)
	}
	if ep.base.State() != netcore.StateReadClosed {
		t.Fatalf("state = %v, want read_closed", ep.base.State())
	}
}

// TestRecvNilWriteClosedToDisable covers the other FIN-after-our-FIN path.
func TestRecvNilWriteClosedToDisable(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)
	ep.base.SetState(netcore.StateWriteClosed)

	errCode := ep.onRecv(pcb, nil, lwip.ErrOK)
	if errCode != lwip.ErrOK {
		t.Fatalf("onRecv(nil) returned %v, want ErrOK", errCode)
	}
	if ep.base.State() != netcore.StateDisable {
		t.Fatalf("state = %v, want disable", ep.base.State())
	}
}

// TestRecvNilUnsupportedStatePanics exercises the documented guarded-panic
// decision for an undefined recv(nil) state (§9's open question).
func TestRecvNilUnsupportedStatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for recv(nil) outside established/write_closed")
		}
	}()

	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.onRecv(pcb, nil, lwip.ErrOK)
}


// TestRecvBufSupplyRejectionTransitionsToError exercises §4.3.3's "buf_supply
// rejects" failure branch: once the read buffer is already at capacity, the
// next recv must record an internal error and transition to error rather
// than silently growing the queue forever.
func TestRecvBufSupplyRejectionTransitionsToError(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	const oneMiB = 1 << 20
	filler := make([]byte, oneMiB)
	fillPb := lwip.PbufAlloc(len(filler))
	fillPb.Take(filler)
	if errCode := ep.onRecv(pcb, fillPb, lwip.ErrOK); errCode != lwip.ErrOK {
		t.Fatalf("filling onRecv returned %v, want ErrOK", errCode)
	}

	overflow := []byte("one more byte")
	pb := lwip.PbufAlloc(len(overflow))
	pb.Take(overflow)

	errCode := ep.onRecv(pcb, pb, lwip.ErrOK)
	if errCode != lwip.ErrAbrt && errCode != lwip.ErrOK {
		t.Fatalf("onRecv returned %v", errCode)
	}
	if ep.base.State() != netcore.StateError {
		t.Fatalf("state = %v, want error", ep.base.State())
	}
	if !ep.base.HaveError() {
		t.Fatal("expected an error to be recorded")
	}
}

func TestErrRstTransitionsToDisable(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	ep.onErr(lwip.ErrRst)

	if ep.pcb != nil {
		t.Fatal("onErr must clear pcb directly")
	}
	if ep.base.State() != netcore.StateDisable {
		t.Fatalf("state = %v, want disable", ep.base.State())
	}
	if !ep.base.HaveError() {
		t.Fatal("expected an error to be recorded")
	}
	if ep.base.Error().Code != "remote_reset" {
		t.Fatalf("error code = %q, want remote_reset", ep.base.Error().Code)
	}
}

func TestErrOtherTransitionsToError(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	ep.onErr(lwip.ErrConn)

	if ep.base.State() != netcore.StateError {
		t.Fatalf("state = %v, want error", ep.base.State())
	}
	if ep.base.Error().Code != "internal" {
		t.Fatalf("error code = %q, want internal", ep.base.Error().Code)
	}
}

// TestDoWriteBackpressure is scenario 4/P4: do_write consumes at most
// min(write_buf_size, tcp_sndbuf) per iteration and marks is_writing when
// the send buffer is exhausted.
func TestDoWriteBackpressure(t *testing.T) {
	pcb := newFakePCB()
	pcb.sndBuf = 1500
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)

	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i)
	}

	if err := ep.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if len(pcb.writes) != 1 {
		t.Fatalf("writes = %d, want 1 (bounded by sndBuf)", len(pcb.writes))
	}
	if len(pcb.writes[0]) != 1500 {
		t.Fatalf("first write len = %d, want 1500", len(pcb.writes[0]))
	}
	if !ep.base.IsWriting() {
		t.Fatal("expected is_writing to be set once sndBuf is exhausted")
	}
	if ep.base.BufSize(netcore.BufWrite) != 2500 {
		t.Fatalf("remaining write buffer = %d, want 2500", ep.base.BufSize(netcore.BufWrite))
	}

	// sent(1500) should clear is_writing (sndBuf > 0 again) and drain more.
	// The window opens wider than the remaining buffer so SndBuf() is still
	// positive once the drain empties the write buffer.
	pcb.sndBuf = 5000
	errCode := ep.onSent(pcb, 1500)
	if errCode != lwip.ErrOK {
		t.Fatalf("onSent returned %v", errCode)
	}
	if ep.base.IsWriting() {
		t.Fatal("expected is_writing to clear once sndBuf > 0 again")
	}
	if !ep.base.BufIsEmpty(netcore.BufWrite) {
		t.Fatalf("write buffer should be drained, has %d bytes left", ep.base.BufSize(netcore.BufWrite))
	}
}

// TestDoWriteErrMemStopsWithoutConsuming is scenario 5.
func TestDoWriteErrMemStopsWithoutConsuming(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)
	pcb.writeErr = lwip.ErrMem

	if err := ep.Write([]byte("data")); err != nil {
		t.Fatalf("Write returned an error for ERR_MEM, want nil: %v", err)
	}
	if len(pcb.writes) != 0 {
		t.Fatal("ERR_MEM must not consume the write buffer")
	}
	if ep.base.BufIsEmpty(netcore.BufWrite) {
		t.Fatal("write buffer must still hold the unwritten bytes")
	}
	if ep.base.HaveError() {
		t.Fatal("ERR_MEM is back-pressure, not an error")
	}
}

func TestUpdateReadClosedShutsDownRX(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)
	ep.base.SetState(netcore.StateReadClosed)

	if err := ep.update(); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !pcb.shutdown.rx || pcb.shutdown.tx {
		t.Fatalf("shutdown = %+v, want rx-only", pcb.shutdown)
	}
}

func TestUpdateErrorClosesAndClearsPCB(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)
	ep.base.SetState(netcore.StateError)

	if err := ep.update(); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !pcb.closed {
		t.Fatal("expected tcp_close to be called")
	}
	if ep.pcb != nil {
		t.Fatal("expected pcb to be cleared after error update")
	}
}

// TestUpdateErrorRetriesOnCloseFailure mirrors net_tun_endpoint.c's error
// case: a failed tcp_close must not detach the pcb, so the next update
// retries the close instead of force-aborting on a transient failure.
func TestUpdateErrorRetriesOnCloseFailure(t *testing.T) {
	pcb := newFakePCB()
	ep := testEndpoint(pcb)
	ep.base.SetState(netcore.StateEstablished)
	ep.base.SetState(netcore.StateError)

	pcb.closeErr = lwip.ErrMem
	if err := ep.update(); err != lwip.ErrMem {
		t.Fatalf("update returned %v, want ErrMem", err)
	}
	if ep.pcb == nil {
		t.Fatal("pcb must survive a failed close so update can retry")
	}
	if pcb.aborted || pcb.closed {
		t.Fatal("a failed close must not abort or mark the pcb closed")
	}

	if err := ep.update(); err != nil {
		t.Fatalf("retried update failed: %v", err)
	}
	if !pcb.closed {
		t.Fatal("expected tcp_close to succeed on retry")
	}
	if ep.pcb != nil {
		t.Fatal("expected pcb to be cleared after the successful retry")
	}
}
