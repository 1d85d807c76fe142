package ledger

import (
	"net"
	"strings"
)

// InRange reports whether addrWithPrefix ("10.0.0.5/24") lies inside
// rangeCIDR ("10.0.0.0/24"). Uses net.IPNet.Contains, the standard-library
// primitive both the teacher and the rest of the pack use for plain
// membership checks; go-cidr is reserved for host enumeration, which the
// standard library has no equivalent for.
func InRange(addrWithPrefix, rangeCIDR string) bool {
	if rangeCIDR == "" {
		return false
	}
	ip := addrWithPrefix
	if idx := strings.Index(addrWithPrefix, "/"); idx >= 0 {
		ip = addrWithPrefix[:idx]
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	_, network, err := net.ParseCIDR(rangeCIDR)
	if err != nil {
		return false
	}
	return network.Contains(parsed)
}
