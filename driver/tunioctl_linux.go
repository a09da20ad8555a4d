//go:build linux

package driver

import (
	"encoding/binary"
	"net"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ifReqSize matches the kernel's struct ifreq layout closely enough for the
// three ioctls used here: an interface name followed by a union big enough
// to hold a sockaddr or an int. Grounded on WireGuard-go's tun_linux.go,
// which uses the same IFNAMSIZ+64 sizing for SIOCGIFMTU/SIOCSIFMTU.
const ifReqSize = unix.IFNAMSIZ + 64

// ifreqIoctl opens a throwaway AF_INET/SOCK_DGRAM socket (required by the
// kernel for SIOCGIF* regardless of the device's own address family) and
// issues one ioctl against it, the same socket-then-ioctl shape the original
// net_raw_device_tun_tun.c uses before CPE_OS_LINUX's SIOCGIFMTU/
// SIOCGIFADDR/SIOCGIFNETMASK block.
func ifreqIoctl(name string, req uintptr, ifr *[ifReqSize]byte) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return errors.Wrap(err, "driver: open ioctl socket")
	}
	defer unix.Close(fd)

	copy(ifr[:], name)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&ifr[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlMTU is the portable fallback for MTU discovery when netlink is
// unavailable (e.g. a sandboxed test environment without CAP_NET_ADMIN for
// netlink but that still permits plain ioctls), mirroring SIOCGIFMTU in
// net_raw_device_tun_tun.c.
func ioctlMTU(name string) (uint32, error) {
	var ifr [ifReqSize]byte
	if err := ifreqIoctl(name, unix.SIOCGIFMTU, &ifr); err != nil {
		return 0, errors.Wrapf(err, "driver: SIOCGIFMTU on %q", name)
	}
	return binary.LittleEndian.Uint32(ifr[unix.IFNAMSIZ : unix.IFNAMSIZ+4]), nil
}

// ifreqSockaddrIP extracts the IPv4 address embedded in a struct ifreq's
// ifr_addr (a struct sockaddr_in at the start of the union, whose first 4
// bytes are sin_family and sin_port): bytes [4:8] of the sockaddr hold the
// 4-byte address.
func ifreqSockaddrIP(ifr *[ifReqSize]byte) net.IP {
	off := unix.IFNAMSIZ + 4
	return net.IPv4(ifr[off], ifr[off+1], ifr[off+2], ifr[off+3])
}

// ioctlAddress is the portable fallback for address discovery, mirroring
// SIOCGIFADDR.
func ioctlAddress(name string) (net.IP, error) {
	var ifr [ifReqSize]byte
	if err := ifreqIoctl(name, unix.SIOCGIFADDR, &ifr); err != nil {
		return nil, errors.Wrapf(err, "driver: SIOCGIFADDR on %q", name)
	}
	return ifreqSockaddrIP(&ifr), nil
}

// ioctlNetmask is the portable fallback for netmask discovery, mirroring
// SIOCGIFNETMASK.
func ioctlNetmask(name string) (net.IP, error) {
	var ifr [ifReqSize]byte
	if err := ifreqIoctl(name, unix.SIOCGIFNETMASK, &ifr); err != nil {
		return nil, errors.Wrapf(err, "driver: SIOCGIFNETMASK on %q", name)
	}
	return ifreqSockaddrIP(&ifr), nil
}
