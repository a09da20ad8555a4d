//go:build !linux

package driver

import "github.com/netdriver/tunbridge/types"

// OpenTUN is Linux-only: MTU/address/netmask discovery here goes through
// netlink and ioctls (device_tun_linux.go), and the only concrete
// evloop.Loop (evloop.EpollLoop) is itself Linux-only, so there is no
// portable event source to register a non-Linux fd with anyway.
func (d *Driver) OpenTUN(name string) (*Device, error) {
	return nil, types.ErrPlatformUnsupported
}
