// Package addr translates between Go's net.IP/port pair and lwip.IPAddr
// (what the embedded stack's PCB contract speaks). It is the Go analog of net_address_to_lwip_ipv4, net_address_to_lwip_ipv6
// and net_address_from_lwip in the original driver.
package addr

import (
	"fmt"
	"net"

	"github.com/netdriver/tunbridge/lwip"
)

// Address is an IP/port pair, the driver's net_address equivalent for the
// address families it supports (IPv4 and IPv6; domain and local-socket
// addresses from the original are not represented).
type Address struct {
	IP   net.IP
	Port uint16
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// IsV6 reports whether the address holds a 16-byte (non-4-in-6) address.
func (a Address) IsV6() bool {
	return a.IP.To4() == nil
}

// ToLWIP converts a into the lwip.IPAddr form Bind/Connect expect.
func ToLWIP(a Address) (lwip.IPAddr, error) {
	var out lwip.IPAddr
	if v4 := a.IP.To4(); v4 != nil {
		copy(out.Addr[:4], v4)
		return out, nil
	}
	v6 := a.IP.To16()
	if v6 == nil {
		return lwip.IPAddr{}, fmt.Errorf("addr: %s is not a valid IPv4 or IPv6 address", a.IP)
	}
	out.V6 = true
	copy(out.Addr[:], v6)
	return out, nil
}

// FromLWIP converts a stack-assigned IPAddr/port pair (as seen after a
// successful Connect picks an ephemeral local port, or after accepting a
// new connection) back into an Address.
func FromLWIP(ip lwip.IPAddr, port uint16) Address {
	if !ip.V6 {
		return Address{IP: net.IPv4(ip.Addr[0], ip.Addr[1], ip.Addr[2], ip.Addr[3]), Port: port}
	}
	b := make(net.IP, 16)
	copy(b, ip.Addr[:])
	return Address{IP: b, Port: port}
}

// Parse builds an Address from a host string and port, resolving literal
// IPs only — the driver never performs DNS resolution itself (name
// resolution belongs to a layer above this driver, same as in the original
// which takes net_address_t already resolved).
func Parse(host string, port uint16) (Address, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return Address{}, fmt.Errorf("addr: %q is not a literal IP address", host)
	}
	return Address{IP: ip, Port: port}, nil
}
