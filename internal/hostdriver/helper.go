package hostdriver

import "strings"

// helperBinary returns the ovs-docker or lxbr-docker wrapper name for the
// active backend, both treated as black-box binaries per the daemon's scope.
func helperBinary(useLinuxBridge bool) string {
	if useLinuxBridge {
		return "lxbr-docker"
	}
	return "ovs-docker"
}

// HelperGetPort reports the bridge port currently registered for a
// container's interface, "" if none is registered.
func (d *Driver) HelperGetPort(useLinuxBridge bool, bridge, container, iface string) (string, error) {
	res, err := d.R.Run([]string{helperBinary(useLinuxBridge), "get-port-name", bridge, container, iface}, false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// HelperDelPort removes a container's interface and its bridge-side port.
func (d *Driver) HelperDelPort(useLinuxBridge bool, bridge, container, iface string) error {
	_, err := d.R.Run([]string{helperBinary(useLinuxBridge), "del-port", bridge, iface, container}, false)
	return err
}

// AddPortOpts carries the optional fields accepted by the helper binary's
// add-port subcommand.
type AddPortOpts struct {
	IPv4       string
	IPv6       string
	MACAddress string
	Gateway    string
	Gateway6   string
}

// HelperAddPort attaches a new interface inside a container and connects it
// to the bridge, applying any addresses/gateway/mac supplied.
func (d *Driver) HelperAddPort(useLinuxBridge bool, bridge, iface, container string, opts AddPortOpts) error {
	cmd := []string{helperBinary(useLinuxBridge), "add-port", bridge, iface, container}
	if opts.IPv4 != "" {
		cmd = append(cmd, "--ipaddress="+opts.IPv4)
	}
	if opts.IPv6 != "" {
		cmd = append(cmd, "--ip6address="+opts.IPv6)
	}
	if opts.MACAddress != "" {
		cmd = append(cmd, "--macaddress="+opts.MACAddress)
	}
	if opts.Gateway != "" {
		cmd = append(cmd, "--gateway="+opts.Gateway)
	}
	if opts.Gateway6 != "" {
		cmd = append(cmd, "--gateway6="+opts.Gateway6)
	}
	_, err := d.R.Run(cmd, true)
	return err
}

// HelperSetVlan applies an access VLAN tag to a container's bridge port.
func (d *Driver) HelperSetVlan(useLinuxBridge bool, bridge, iface, container, vlan string) error {
	_, err := d.R.Run([]string{helperBinary(useLinuxBridge), "set-vlan", bridge, iface, container, vlan}, true)
	return err
}

// HelperSetTrunk applies a trunk VLAN list to a container's bridge port.
func (d *Driver) HelperSetTrunk(useLinuxBridge bool, bridge, iface, container, trunks string) error {
	_, err := d.R.Run([]string{helperBinary(useLinuxBridge), "set-trunk", bridge, iface, container, trunks}, true)
	return err
}
