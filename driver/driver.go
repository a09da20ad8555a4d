// Package driver bridges a TUN device to an embedded TCP/IP stack's raw PCB
// API, translating stack callbacks into a runtime endpoint's state machine
// and vice versa. It is organized the way net_tun_driver and
// net_tun_endpoint split the original: a Driver owns devices (C2) and a
// listener table per device (C3); Endpoint (C4) is the bridge proper.
package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/netdriver/tunbridge/evloop"
	"github.com/netdriver/tunbridge/lwip"
)

// Driver is C5: the object a host process constructs once and hands
// devices to. It owns no threads of its own — everything it does happens
// either synchronously on the caller's goroutine or as a callback the
// injected Loop invokes. Per §5, the driver is single-threaded and
// cooperative: nothing here takes a lock, because only the one goroutine
// driving the injected Loop ever touches this state.
type Driver struct {
	log   *logrus.Logger
	debug int
	stack lwip.Stack
	loop  evloop.Loop

	scratch []byte // reused across TUN reads to avoid a per-read allocation, sized to maxFrameSize

	devices map[string]*Device
	nextID  int
}

// maxFrameSize bounds a single TUN read (§4.1's fail-safe: a datagram past
// this is dropped) and sizes the driver's shared scratch buffer.
const maxFrameSize = 64 * 1024

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithLogger overrides the default logrus logger.
func WithLogger(log *logrus.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithDebug sets the driver's debug verbosity level (the analog of
// net_endpoint_driver_debug). The level is stored on the Driver; no code in
// this package reads it, so it does not change what gets logged.
func WithDebug(level int) Option {
	return func(d *Driver) { d.debug = level }
}

// New constructs a Driver bound to stack (the embedded TCP/IP stack
// instance) and loop (the host's event loop).
func New(stack lwip.Stack, loop evloop.Loop, opts ...Option) *Driver {
	d := &Driver{
		log:     logrus.StandardLogger(),
		stack:   stack,
		loop:    loop,
		scratch: make([]byte, maxFrameSize),
		devices: make(map[string]*Device),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) allocEndpointID() int {
	d.nextID++
	return d.nextID
}

func (d *Driver) addDevice(dev *Device) error {
	if _, exists := d.devices[dev.name]; exists {
		return fmt.Errorf("driver: device %q already added", dev.name)
	}
	d.devices[dev.name] = dev
	return nil
}

// RemoveDevice stops and forgets a previously added device.
func (d *Driver) RemoveDevice(name string) error {
	dev, ok := d.devices[name]
	if !ok {
		return fmt.Errorf("driver: device %q not found", name)
	}
	delete(d.devices, name)
	return dev.close()
}

// Device looks up a previously added device by name.
func (d *Driver) Device(name string) (*Device, bool) {
	dev, ok := d.devices[name]
	return dev, ok
}
