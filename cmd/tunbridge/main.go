// Command tunbridge is a sample echo server built on the driver: it opens a
// TUN device, binds a listener, and echoes back whatever a peer sends,
// the same shape as the teacher's sample/tun_tcp_echo but driven by the
// lwip.PCB contract and an injected evloop.Loop instead of a channel-based
// wait queue.
package main

import (
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/netdriver/tunbridge/addr"
	"github.com/netdriver/tunbridge/driver"
	"github.com/netdriver/tunbridge/evloop"
	"github.com/netdriver/tunbridge/lwip"
	"github.com/netdriver/tunbridge/netcore"
	"github.com/netdriver/tunbridge/types"
)

func main() {
	var (
		tunName = flag.StringP("device", "d", "tun0", "TUN device name")
		address = flag.StringP("address", "a", "10.1.0.1", "local IPv4 address for the TUN device")
		netmask = flag.StringP("netmask", "m", "255.255.255.0", "netmask for the TUN device")
		port    = flag.Uint16P("port", "p", 12345, "TCP port to listen on")
		debug   = flag.CountP("debug", "v", "increase debug verbosity")
	)
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetLevel(logrus.InfoLevel)
	if *debug > 0 {
		log.SetLevel(logrus.DebugLevel)
	}

	loop, err := evloop.NewEpollLoop()
	if err != nil {
		log.WithError(err).Fatal("create event loop")
	}

	stack := lwip.NewSim()
	drv := driver.New(stack, loop, driver.WithLogger(log), driver.WithDebug(*debug))

	// OpenTUN already discovers MTU and, if the kernel already has one
	// configured (e.g. by a companion "ip addr add"), the device's address
	// and netmask. The --address/--netmask flags below are then applied to
	// the stack's interface unconditionally, replacing any discovered
	// address.
	dev, err := drv.OpenTUN(*tunName)
	if err != nil {
		log.WithError(err).Fatal("open tun device")
	}

	local, err := addr.Parse(*address, *port)
	if err != nil {
		log.WithError(err).Fatal("parse local address")
	}
	mask, err := addr.Parse(*netmask, 0)
	if err != nil {
		log.WithError(err).Fatal("parse netmask")
	}
	if err := dev.SetAddress(local, mask); err != nil {
		log.WithError(err).Fatal("configure tun device address")
	}

	err = dev.Listen(local, types.ProtocolTCP, 16, func(ep *driver.Endpoint) error {
		remote, _ := ep.Base().RemoteAddress()
		log.WithField("remote", remote).Info("accepted connection")
		go echo(log, ep)
		return nil
	})
	if err != nil {
		log.WithError(err).Fatal("listen")
	}

	log.WithFields(logrus.Fields{"device": dev.Name(), "address": local, "port": *port}).Info("tunbridge listening")
	select {}
}

// echo drains an endpoint's read buffer and writes it straight back. Doing
// this from its own goroutine instead of inline from onRecv breaks the
// single-threaded contract the driver otherwise relies on; it's fine for
// this demo because nothing else touches ep concurrently, but a real
// consumer should drive Write from the same loop that owns the driver.
func echo(log *logrus.Logger, ep *driver.Endpoint) {
	base := ep.Base()
	for base.IsActive() {
		if base.BufIsEmpty(netcore.BufRead) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		n := base.BufSize(netcore.BufRead)
		data := base.BufPeekWithSize(netcore.BufRead, n)
		payload := make([]byte, n)
		copy(payload, data)
		base.BufConsume(netcore.BufRead, n)

		if err := ep.Write(payload); err != nil {
			log.WithError(err).Warn("echo write failed")
			return
		}
	}
}
