// Package evloop is the injected event loop contract: the driver never
// spawns its own goroutine per device or blocks a thread in a read loop,
// it registers file descriptors with whatever cooperative loop the host
// process already runs (the spec's single-threaded, no-locks concurrency
// model) and gets called back when they're readable.
package evloop

// Loop is the contract a host process's event loop satisfies. The driver's
// C2 TUN pump calls Watch once per device and never touches the fd again
// except through the loop.
type Loop interface {
	// Watch registers fd for readability notifications. onReadable runs on
	// the loop's own goroutine; it must not block.
	Watch(fd int, onReadable func()) error

	// Unwatch deregisters fd. Safe to call from within onReadable.
	Unwatch(fd int) error
}
