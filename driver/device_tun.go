package driver

import (
	stderrors "errors"
	"io"
	"syscall"

	"github.com/songgao/water"

	"github.com/netdriver/tunbridge/addr"
	"github.com/netdriver/tunbridge/lwip"
	"github.com/netdriver/tunbridge/types"
)

// Device is C2: a single TUN interface pumped through the injected event
// loop, feeding inbound datagrams into the stack's NetIf and writing the
// stack's output back to the kernel. It owns no goroutine of its own.
//
// Per §5, Device has no lock of its own: only the goroutine driving the
// injected Loop ever calls into a Device, so nothing here is reentered
// from a second thread.
type Device struct {
	driver *Driver
	name   string

	iface *water.Interface
	fd    int
	mtu   uint32

	netIf lwip.NetIf

	listeners *listenerTable

	endpoints map[int]*Endpoint
}

// fdGetter matches water.Interface.ReadWriteCloser's concrete type on
// platforms (Linux, *BSD) where it wraps an *os.File; used to recover the
// raw fd the injected Loop needs to select on.
type fdGetter interface {
	Fd() uintptr
}

// Name returns the kernel-assigned (or requested) interface name.
func (dev *Device) Name() string { return dev.name }

// SetAddress configures the address the stack answers inbound SYNs on.
func (dev *Device) SetAddress(local, netmask addr.Address) error {
	localIP, err := addr.ToLWIP(local)
	if err != nil {
		return err
	}
	netmaskIP, err := addr.ToLWIP(netmask)
	if err != nil {
		return err
	}
	dev.netIf.SetAddress(localIP, netmaskIP)
	return nil
}

// Listen creates a listening pcb bound to local and registers accept as the
// handler for connections the stack delivers to it (C3). Only TCP is
// supported; UDP listeners are unwired per SPEC_FULL's Non-goals.
func (dev *Device) Listen(local addr.Address, proto types.Protocol, backlog int, accept AcceptFunc) error {
	if proto != types.ProtocolTCP {
		return types.ErrUnsupportedAddress
	}

	localIP, err := addr.ToLWIP(local)
	if err != nil {
		return err
	}

	pcb := dev.driver.stack.NewPCB()
	if errCode := pcb.Bind(localIP, local.Port); errCode != lwip.ErrOK {
		pcb.Abort()
		return errCode
	}

	listenPCB, errCode := pcb.Listen(backlog)
	if errCode != lwip.ErrOK {
		pcb.Abort()
		return errCode
	}

	l := &listener{accept: accept, pcb: listenPCB}
	listenPCB.SetAcceptFunc(func(newPCB lwip.PCB, err lwip.Err) lwip.Err {
		if err != lwip.ErrOK {
			return lwip.ErrOK
		}
		ep := dev.acceptEndpoint(newPCB)
		if acceptErr := l.accept(ep); acceptErr != nil {
			ep.setPCB(nil, true)
			dev.forgetEndpoint(ep.ID())
			return lwip.ErrAbrt
		}
		return lwip.ErrOK
	})

	if err := dev.listeners.register(local, proto, l); err != nil {
		listenPCB.Abort()
		return err
	}
	return nil
}

// CloseListener releases a previously registered listener.
func (dev *Device) CloseListener(local addr.Address, proto types.Protocol) {
	dev.listeners.unregister(local, proto)
}

// onReadable is the Loop callback. §4.1's read path loops a single read
// call until the kernel reports EAGAIN/EWOULDBLOCK or a zero-length read,
// rather than relying on epoll to re-notify for whatever a single Read left
// behind. Every iteration reads into the driver's shared scratch buffer
// (net_raw_driver_t's m_data_buffer equivalent): nothing else touches it
// between devices, since only one goroutine ever drives the loop.
func (dev *Device) onReadable() {
	scratch := dev.driver.scratch
	for {
		n, err := dev.iface.Read(scratch)
		if err != nil {
			if stderrors.Is(err, syscall.EAGAIN) || stderrors.Is(err, syscall.EWOULDBLOCK) {
				return
			}
			if err != io.EOF {
				dev.driver.log.WithError(err).WithField("device", dev.name).Warn("tun read failed")
			}
			return
		}
		if n == 0 {
			return
		}

		pb := lwip.PbufAlloc(n)
		pb.Take(scratch[:n])
		if errCode := dev.netIf.Input(pb); errCode != lwip.ErrOK {
			pb.Free()
			dev.driver.log.WithField("device", dev.name).WithField("err", errCode).Debug("tun: datagram rejected by stack")
		}
	}
}

// writeDatagram is the stack's OutputFunc for this device's interface: a
// ready-to-send IP datagram goes straight to the kernel, mirroring
// NonBlockingWrite / nonBlockingWrite2 in the teacher's tundev link.
func (dev *Device) writeDatagram(datagram []byte) error {
	_, err := dev.iface.Write(datagram)
	return err
}

func (dev *Device) registerEndpoint(ep *Endpoint) {
	dev.endpoints[ep.ID()] = ep
}

func (dev *Device) forgetEndpoint(id int) {
	delete(dev.endpoints, id)
}

func (dev *Device) close() error {
	dev.driver.loop.Unwatch(dev.fd)
	dev.listeners.freeAll()
	return dev.iface.Close()
}
