package ledger

import (
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/raikou-net/netorch/internal/rerr"
)

// AutoAllocate picks the first unreserved address inside rangeCIDR for
// holder under the given family, skipping the first 5 host addresses
// (reserved for gateway/infrastructure), matching the original
// orchestrator's allocation policy. It records the reservation on success.
func (br *BridgeRecord) AutoAllocate(family, holder, rangeCIDR string) (string, error) {
	if rangeCIDR == "" {
		return "", rerr.New(rerr.NoRange, "bridge has no %s range configured", family)
	}
	_, network, err := net.ParseCIDR(rangeCIDR)
	if err != nil {
		return "", rerr.Wrap(rerr.BadAddress, err, "invalid range %q", rangeCIDR)
	}
	ones, _ := network.Mask.Size()

	total := cidr.AddressCount(network)

	const skip = 5 // .1 through .5 reserved for gateway/infrastructure
	const scanCap = 1 << 20 // bound the scan for very large (e.g. IPv6) ranges
	limit := total
	if family != "6" && ones < 31 {
		limit-- // exclude the broadcast address
	}
	if limit > scanCap {
		limit = scanCap
	}

	hosts := br.HostsFor(family)
	reserved := make(map[string]bool, len(hosts))
	for _, a := range hosts {
		reserved[a] = true
	}

	for i := skip + 1; uint64(i) < limit; i++ {
		ip, err := cidr.Host(network, i)
		if err != nil {
			continue
		}
		candidate := fmt.Sprintf("%s/%d", ip.String(), ones)
		if !reserved[candidate] {
			br.Reserve(family, holder, candidate)
			return candidate, nil
		}
	}
	return "", rerr.New(rerr.RangeExhausted, "no free address in range %q for holder %q", rangeCIDR, holder)
}
