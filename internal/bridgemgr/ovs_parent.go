package bridgemgr

import (
	"strconv"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

// AttachOVSPort implements §4.3: rebind the port if it's attached to the
// wrong bridge, then apply the single desired VLAN mode. When the ledger
// shows a previously applied mode of a different kind, that mode's trunks
// or tag column is removed first. The desired value is compared with the
// port's current column value and written only when they differ.
func (m *Manager) AttachOVSPort(bridge, iface string, vlan config.VlanMode, br *ledger.BridgeRecord, logf *logrus.Entry) error {
	current, err := m.Drv.OVSPortToBridge(iface)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "query port-to-br for %q", iface)
	}
	if current != bridge {
		if err := m.Drv.OVSAddPort(bridge, iface); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "attach parent %q to ovs bridge %q", iface, bridge)
		}
	}

	cached := br.ParentVlans[iface]
	want := ledger.VlanRecordFrom(vlan)

	if cached.Kind != "" && cached.Kind != want.Kind {
		if err := m.clearOVSVlan(iface, cached); err != nil {
			return err
		}
	}

	switch want.Kind {
	case "trunk":
		current, err := m.Drv.OVSGetPortColumn(iface, "trunks")
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read trunks on %q", iface)
		}
		desired := vlan.TrunksString()
		if current != desired {
			if current != "" {
				if err := m.Drv.OVSRemovePortColumn(iface, "trunks", current); err != nil {
					return rerr.Wrap(rerr.CommandFailed, err, "clear trunks on %q", iface)
				}
			}
			if err := m.Drv.OVSSetPortTrunks(iface, desired); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "set trunks on %q", iface)
			}
			br.ParentVlans[iface] = want
		}
	case "native":
		current, err := m.Drv.OVSGetPortColumn(iface, "tag")
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read tag on %q", iface)
		}
		desiredTag := strconv.Itoa(vlan.VID)
		if current != desiredTag || cached.Kind != "native" {
			if err := m.Drv.OVSSetPortNative(iface, desiredTag); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "set native vlan on %q", iface)
			}
			br.ParentVlans[iface] = want
		}
	case "access":
		current, err := m.Drv.OVSGetPortColumn(iface, "tag")
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read tag on %q", iface)
		}
		desiredTag := strconv.Itoa(vlan.VID)
		if current != desiredTag {
			if err := m.Drv.OVSSetPortTag(iface, desiredTag); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "set access vlan on %q", iface)
			}
			br.ParentVlans[iface] = want
		}
	default:
		delete(br.ParentVlans, iface)
	}
	return nil
}

func (m *Manager) clearOVSVlan(iface string, cached ledger.ParentVlanRecord) error {
	switch cached.Kind {
	case "trunk":
		current, err := m.Drv.OVSGetPortColumn(iface, "trunks")
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read trunks on %q", iface)
		}
		if current != "" {
			if err := m.Drv.OVSRemovePortColumn(iface, "trunks", current); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "clear trunks on %q", iface)
			}
		}
	case "access", "native":
		current, err := m.Drv.OVSGetPortColumn(iface, "tag")
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read tag on %q", iface)
		}
		if current != "" {
			if err := m.Drv.OVSRemovePortColumn(iface, "tag", current); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "clear tag on %q", iface)
			}
		}
	}
	return nil
}

