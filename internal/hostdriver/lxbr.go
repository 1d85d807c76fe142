package hostdriver

import (
	"regexp"
	"strconv"
	"strings"
)

// LxbrBridgeExists reports whether a Linux bridge with this name exists.
func (d *Driver) LxbrBridgeExists(name string) (bool, error) {
	res, err := d.R.Run([]string{"sh", "-c", "brctl show " + name}, false)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// LxbrAddBridge creates a Linux bridge, a no-op if it already exists.
func (d *Driver) LxbrAddBridge(name string) error {
	exists, err := d.LxbrBridgeExists(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = d.R.Run([]string{"brctl", "addbr", name}, true)
	return err
}

// LxbrDelBridge deletes a Linux bridge, a no-op if absent.
func (d *Driver) LxbrDelBridge(name string) error {
	_ = d.LinkSetDown(name)
	_, err := d.R.Run([]string{"brctl", "delbr", name}, false)
	return err
}

// LxbrMaster returns the bridge a link is currently enslaved to, "" if none.
func (d *Driver) LxbrMaster(iface string) (string, error) {
	res, err := d.R.Run([]string{"ip", "-o", "link", "show", iface}, false)
	if err != nil {
		return "", err
	}
	idx := strings.Index(res.Stdout, "master ")
	if idx < 0 {
		return "", nil
	}
	rest := strings.TrimSpace(res.Stdout[idx+len("master "):])
	return strings.Fields(rest)[0], nil
}

// LxbrAddIface enslaves an interface to a Linux bridge, detaching first.
func (d *Driver) LxbrAddIface(bridge, iface string) error {
	_, _ = d.R.Run([]string{"ip", "link", "set", iface, "nomaster"}, false)
	_, err := d.R.Run([]string{"brctl", "addif", bridge, iface}, true)
	return err
}

// LxbrSetVlanFiltering toggles VLAN-aware mode on a Linux bridge.
func (d *Driver) LxbrSetVlanFiltering(bridge string, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	_, err := d.R.Run([]string{"ip", "link", "set", bridge, "type", "bridge", "vlan_filtering", val}, true)
	return err
}

var vlanVidLine = regexp.MustCompile(`^(?:\S+)?\s+(\d+)`)

// LxbrCurrentVids returns the VIDs currently configured on an interface's
// bridge-VLAN membership (skipping the header line bridge(8) prints; the
// first VID line is prefixed with the port name).
func (d *Driver) LxbrCurrentVids(iface string) ([]int, error) {
	res, err := d.R.Run([]string{"bridge", "vlan", "show", "dev", iface}, false)
	if err != nil {
		return nil, err
	}
	var vids []int
	lines := strings.Split(res.Stdout, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header: "port	vlan-id"
		}
		m := vlanVidLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err == nil {
			vids = append(vids, v)
		}
	}
	return vids, nil
}

// LxbrDelVid removes a single VID from an interface's bridge membership.
func (d *Driver) LxbrDelVid(iface string, vid int) error {
	_, err := d.R.Run([]string{"bridge", "vlan", "del", "dev", iface, "vid", strconv.Itoa(vid)}, false)
	return err
}

// LxbrAddVid adds a VID to an interface's bridge membership; pvid marks it
// as the port's untagged/native VID.
func (d *Driver) LxbrAddVid(iface string, vid int, pvid bool) error {
	cmd := []string{"bridge", "vlan", "add", "dev", iface, "vid", strconv.Itoa(vid)}
	if pvid {
		cmd = append(cmd, "pvid", "untagged")
	}
	_, err := d.R.Run(cmd, true)
	return err
}
