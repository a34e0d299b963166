package addrmgr

import (
	"fmt"
	"net"

	"github.com/tessacoin/tessanode/services/legacy/wire"
)

func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

var (
	// rfc1918Nets are the private IPv4 ranges.
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}

	rfc2544Net  = ipNet("198.18.0.0", 15, 32)
	rfc3849Net  = ipNet("2001:DB8::", 32, 128)
	rfc3927Net  = ipNet("169.254.0.0", 16, 32)
	rfc4193Net  = ipNet("FC00::", 7, 128)
	rfc4843Net  = ipNet("2001:10::", 28, 128)
	rfc4862Net  = ipNet("FE80::", 64, 128)
	rfc5737Nets = []net.IPNet{
		ipNet("192.0.2.0", 24, 32),
		ipNet("198.51.100.0", 24, 32),
		ipNet("203.0.113.0", 24, 32),
	}
	rfc6598Net = ipNet("100.64.0.0", 10, 32)

	zero4Net = ipNet("0.0.0.0", 8, 32)
)

func IsIPv4(na *wire.NetAddress) bool {
	return na.IP.To4() != nil
}

func IsLocal(na *wire.NetAddress) bool {
	return na.IP.IsLoopback() || zero4Net.Contains(na.IP)
}

func IsRFC1918(na *wire.NetAddress) bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(na.IP) {
			return true
		}
	}

	return false
}

func isRFC5737(na *wire.NetAddress) bool {
	for _, rfc := range rfc5737Nets {
		if rfc.Contains(na.IP) {
			return true
		}
	}

	return false
}

// IsValid reports whether the address is neither unspecified nor the
// IPv4 broadcast address.
func IsValid(na *wire.NetAddress) bool {
	return na.IP != nil && !(na.IP.IsUnspecified() || na.IP.Equal(net.IPv4bcast))
}

// IsRoutable reports whether the address is reachable over the public
// internet.
func IsRoutable(na *wire.NetAddress) bool {
	return IsValid(na) && !(IsRFC1918(na) || rfc2544Net.Contains(na.IP) ||
		rfc3927Net.Contains(na.IP) || rfc4862Net.Contains(na.IP) ||
		rfc3849Net.Contains(na.IP) || rfc4843Net.Contains(na.IP) ||
		isRFC5737(na) || rfc6598Net.Contains(na.IP) ||
		rfc4193Net.Contains(na.IP) || IsLocal(na) || na.IP.IsMulticast())
}

// GroupKey returns the network group of the address: the /16 for IPv4 and
// the /32 for IPv6.  Outbound connections are spread across groups.
func GroupKey(na *wire.NetAddress) string {
	if IsLocal(na) {
		return "local"
	}

	if !IsRoutable(na) {
		return "unroutable"
	}

	if IsIPv4(na) {
		return na.IP.Mask(net.CIDRMask(16, 32)).String()
	}

	return na.IP.Mask(net.CIDRMask(32, 128)).String()
}

// NetAddressKey is the host:port string of the address.
func NetAddressKey(na *wire.NetAddress) string {
	return net.JoinHostPort(na.IP.String(), fmt.Sprint(na.Port))
}
