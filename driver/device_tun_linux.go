//go:build linux

package driver

import (
	"net"

	"github.com/pkg/errors"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/netdriver/tunbridge/addr"
)

// OpenTUN opens and configures name as an L3 TUN interface, the Linux
// implementation of §4.1's creation sequence: open the clone device, set
// non-blocking mode, discover MTU/address/netmask via the kernel rather
// than taking them as caller-supplied parameters, then register the fd's
// readability with the driver's event loop.
//
// Discovery tries netlink first (the idiomatic Go path, also used by
// ConfigureAddress/DiscoverAddress below) and falls back to the raw ioctls
// net_raw_device_tun_tun.c issues under CPE_OS_LINUX when netlink is
// unavailable — a sandboxed test environment without CAP_NET_ADMIN for
// netlink but that still permits ioctls on a socket it already owns.
// A freshly created TUN device has no address configured yet; that is not
// treated as fatal here, since this driver (unlike the original's
// pre-configured-device assumption) is also used to create brand new
// devices a caller configures afterward via SetAddress/ConfigureAddress.
func (d *Driver) OpenTUN(name string) (*Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "driver: open tun device %q", name)
	}

	fdSrc, ok := iface.ReadWriteCloser.(fdGetter)
	if !ok {
		iface.Close()
		return nil, errors.New("driver: tun interface has no accessible file descriptor")
	}
	fd := int(fdSrc.Fd())

	if err := unix.SetNonblock(fd, true); err != nil {
		iface.Close()
		return nil, errors.Wrapf(err, "driver: set %q non-blocking", name)
	}

	mtu, err := discoverMTU(name)
	if err != nil {
		iface.Close()
		return nil, err
	}

	dev := &Device{
		name:      name,
		iface:     iface,
		fd:        fd,
		mtu:       mtu,
		listeners: newListenerTable(),
		endpoints: make(map[int]*Endpoint),
	}
	dev.driver = d
	dev.netIf = d.stack.NewNetIf(mtu, dev.writeDatagram)

	if err := dev.DiscoverAddress(); err != nil {
		d.log.WithError(err).WithField("device", name).Debug("tun: no address configured yet")
	}

	if err := d.addDevice(dev); err != nil {
		iface.Close()
		return nil, err
	}
	if err := d.loop.Watch(fd, dev.onReadable); err != nil {
		delete(d.devices, dev.name)
		iface.Close()
		return nil, errors.Wrapf(err, "driver: watch %q", name)
	}

	return dev, nil
}

// discoverMTU tries netlink first, falling back to SIOCGIFMTU.
func discoverMTU(name string) (uint32, error) {
	if link, err := netlink.LinkByName(name); err == nil {
		if mtu := link.Attrs().MTU; mtu > 0 {
			return uint32(mtu), nil
		}
	}
	mtu, err := ioctlMTU(name)
	if err != nil {
		return 0, errors.Wrapf(err, "driver: discover mtu for %q", name)
	}
	return mtu, nil
}

// ConfigureAddress assigns local/prefixLen to the kernel-side interface via
// netlink and mirrors the same address/netmask into the stack's NetIf, so
// SYNs the kernel routes to this device and SYNs the stack answers agree on
// who the device is. The original driver instead expects the interface to
// already be configured by the process that created the TUN device; this
// is the supplemental path for callers that want the driver to do both.
func (dev *Device) ConfigureAddress(local net.IP, prefixLen int) error {
	link, err := netlink.LinkByName(dev.name)
	if err != nil {
		return errors.Wrapf(err, "driver: look up link %q", dev.name)
	}

	bits := 32
	if local.To4() == nil {
		bits = 128
	}
	nlAddr := &netlink.Addr{IPNet: &net.IPNet{IP: local, Mask: net.CIDRMask(prefixLen, bits)}}
	if err := netlink.AddrAdd(link, nlAddr); err != nil {
		return errors.Wrapf(err, "driver: add address %s/%d to %q", local, prefixLen, dev.name)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "driver: bring up %q", dev.name)
	}

	netmask := net.IP(net.CIDRMask(prefixLen, bits))
	return dev.SetAddress(addr.Address{IP: local}, addr.Address{IP: netmask})
}

// DiscoverAddress reads back whatever address the kernel already has
// configured for this device (set by a tool outside this process, e.g.
// ip addr add) and mirrors it into the stack's NetIf. It tries netlink
// first and falls back to SIOCGIFADDR/SIOCGIFNETMASK, the same
// netlink-primary/ioctl-fallback split discoverMTU uses, since a sandbox
// that denies netlink's RTM_GETADDR may still allow plain ioctls.
func (dev *Device) DiscoverAddress() error {
	if ip, mask, err := discoverAddressNetlink(dev.name); err == nil {
		return dev.SetAddress(addr.Address{IP: ip}, addr.Address{IP: mask})
	}

	ip, err := ioctlAddress(dev.name)
	if err != nil {
		return err
	}
	mask, err := ioctlNetmask(dev.name)
	if err != nil {
		return err
	}
	return dev.SetAddress(addr.Address{IP: ip}, addr.Address{IP: mask})
}

func discoverAddressNetlink(name string) (net.IP, net.IP, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "driver: look up link %q", name)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "driver: list addresses on %q", name)
	}
	if len(addrs) == 0 {
		return nil, nil, errors.Errorf("driver: %q has no configured address", name)
	}

	a := addrs[0]
	return a.IP, net.IP(a.Mask), nil
}
