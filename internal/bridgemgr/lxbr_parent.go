package bridgemgr

import (
	"sort"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

// AttachLinuxPort implements §4.4: rebind if enslaved to the wrong
// bridge, then drop VIDs no longer desired and add VIDs newly desired. A
// parent moving from trunk to access (or vice versa) has its entire
// previous VID set explicitly cleared via the ledger-tracked cached mode,
// rather than only ever adding (see REDESIGN FLAGS).
func (m *Manager) AttachLinuxPort(bridge, iface string, vlan config.VlanMode, br *ledger.BridgeRecord, logf *logrus.Entry) error {
	master, err := m.Drv.LxbrMaster(iface)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "query master of %q", iface)
	}
	if master != bridge {
		if err := m.Drv.LxbrAddIface(bridge, iface); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "attach parent %q to linux bridge %q", iface, bridge)
		}
	}

	desired := desiredVIDs(vlan)
	cached := br.ParentVlans[iface]
	want := ledger.VlanRecordFrom(vlan)

	if len(desired) == 0 && cached.Kind == "" {
		return nil
	}

	if err := m.Drv.LxbrSetVlanFiltering(bridge, true); err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "enable vlan_filtering on %q", bridge)
	}

	current, err := m.Drv.LxbrCurrentVids(iface)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "read current vids on %q", iface)
	}
	currentSet := map[int]bool{}
	for _, v := range current {
		currentSet[v] = true
	}
	desiredSet := map[int]bool{}
	for _, v := range desired {
		desiredSet[v] = true
	}

	// drop VIDs no longer desired, including the default untagged vid 1; when
	// the ledger shows a different previously applied mode, every current VID
	// is dropped so the new mode's VIDs are re-added with its own pvid flag
	modeChanged := cached.Kind != "" && cached.Kind != want.Kind
	toDrop := []int{}
	for v := range currentSet {
		if modeChanged || !desiredSet[v] {
			toDrop = append(toDrop, v)
		}
	}
	sort.Ints(toDrop)
	for _, v := range toDrop {
		if err := m.Drv.LxbrDelVid(iface, v); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "remove vid %d from %q", v, iface)
		}
	}

	pvid := vlan.Kind == config.VlanAccess || vlan.Kind == config.VlanNative
	toAdd := []int{}
	for v := range desiredSet {
		if modeChanged || !currentSet[v] {
			toAdd = append(toAdd, v)
		}
	}
	sort.Ints(toAdd)
	for _, v := range toAdd {
		if err := m.Drv.LxbrAddVid(iface, v, pvid); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "add vid %d to %q", v, iface)
		}
	}

	if len(toDrop) > 0 || len(toAdd) > 0 {
		logf.WithField("iface", iface).WithField("vids", desired).Debug("linux bridge vlan membership applied")
	}
	if len(desired) == 0 {
		delete(br.ParentVlans, iface)
	} else {
		br.ParentVlans[iface] = want
	}
	return nil
}

func desiredVIDs(vlan config.VlanMode) []int {
	switch vlan.Kind {
	case config.VlanAccess, config.VlanNative:
		return []int{vlan.VID}
	case config.VlanTrunk:
		return vlan.Trunks
	default:
		return nil
	}
}
