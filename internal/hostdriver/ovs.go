package hostdriver

import (
	"strings"
)

// OVSBridgeExists reports whether an OVS bridge with this name exists.
func (d *Driver) OVSBridgeExists(name string) (bool, error) {
	res, err := d.R.Run([]string{"ovs-vsctl", "br-exists", name}, false)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// OVSAddBridge creates an OVS bridge, a no-op if it already exists.
func (d *Driver) OVSAddBridge(name string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "--may-exist", "add-br", name}, true)
	return err
}

// OVSDelBridge deletes an OVS bridge, a no-op if absent.
func (d *Driver) OVSDelBridge(name string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "--if-exists", "del-br", name}, true)
	return err
}

// OVSPortToBridge returns the bridge a port currently belongs to, "" if none.
func (d *Driver) OVSPortToBridge(port string) (string, error) {
	res, err := d.R.Run([]string{"ovs-vsctl", "port-to-br", port}, false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// OVSAddPort attaches a port to a bridge, replacing any existing membership.
func (d *Driver) OVSAddPort(bridge, port string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "--if-exists", "del-port", port}, true)
	if err != nil {
		return err
	}
	_, err = d.R.Run([]string{"ovs-vsctl", "--may-exist", "add-port", bridge, port}, true)
	return err
}

// OVSGetPortColumn reads a column off a Port row (e.g. "tag" or "trunks"),
// returning "" when unset.
func (d *Driver) OVSGetPortColumn(port, column string) (string, error) {
	res, err := d.R.Run([]string{"ovs-vsctl", "get", "port", port, column}, false)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	v := strings.TrimSpace(res.Stdout)
	if v == "[]" {
		return "", nil
	}
	return strings.Trim(v, "[]"), nil
}

// OVSRemovePortColumn clears a column's current value off a Port row.
func (d *Driver) OVSRemovePortColumn(port, column, current string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "remove", "port", port, column, current}, true)
	return err
}

// OVSSetPortTag sets an access VLAN tag on a port.
func (d *Driver) OVSSetPortTag(port, vlan string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "set", "port", port, "tag=" + vlan}, true)
	return err
}

// OVSSetPortTrunks sets the trunk list on a port (comma separated VIDs).
func (d *Driver) OVSSetPortTrunks(port, vlans string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "set", "port", port, "trunks=" + vlans}, true)
	return err
}

// OVSSetPortNative sets native-untagged mode with the given VID on a port.
func (d *Driver) OVSSetPortNative(port, vlan string) error {
	_, err := d.R.Run([]string{"ovs-vsctl", "set", "port", port, "vlan_mode=native-untagged", "tag=" + vlan}, true)
	return err
}
