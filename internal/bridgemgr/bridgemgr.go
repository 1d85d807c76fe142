// Package bridgemgr implements EnsureBridge: creating or repairing a bridge
// (OVS or Linux-native), reconciling its own address against the ledger,
// and attaching parent uplinks with VLAN semantics.
package bridgemgr

import (
	"strings"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "bridgemgr")

// Manager ensures bridges converge to their desired state.
type Manager struct {
	Drv            *hostdriver.Driver
	UseLinuxBridge bool
}

func New(drv *hostdriver.Driver, useLinuxBridge bool) *Manager {
	return &Manager{Drv: drv, UseLinuxBridge: useLinuxBridge}
}

// EnsureBridge brings a single bridge and its parents into line with spec.
func (m *Manager) EnsureBridge(name string, spec *config.Bridge, lg *ledger.Ledger) error {
	logf := log.WithField("bridge", name)

	if err := m.ensureBridgeExists(name, logf); err != nil {
		return err
	}

	br := lg.Bridge(name)
	if err := m.reconcileAddr(name, "4", spec.IPv4Range, spec.IPv4Addr, br, logf); err != nil {
		return err
	}
	if err := m.reconcileAddr(name, "6", spec.IPv6Range, spec.IPv6Addr, br, logf); err != nil {
		return err
	}

	for _, p := range spec.Parents {
		iface := p.Iface
		if strings.HasPrefix(iface, "usb:") {
			resolved, err := m.Drv.ResolveUSB(strings.TrimPrefix(iface, "usb:"))
			if err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "resolve usb parent %q", iface)
			}
			iface = resolved
		}
		if err := m.Drv.LinkSetUp(iface); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "bring up parent %q", iface)
		}
		if m.UseLinuxBridge {
			if err := m.AttachLinuxPort(name, iface, p.Vlan, br, logf); err != nil {
				return err
			}
		} else {
			if err := m.AttachOVSPort(name, iface, p.Vlan, br, logf); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureBridgeExists creates the bridge in the active backend, repairing a
// backend mismatch (a link with this name exists under the other backend)
// by tearing it down first.
func (m *Manager) ensureBridgeExists(name string, logf *logrus.Entry) error {
	if m.UseLinuxBridge {
		exists, err := m.Drv.LxbrBridgeExists(name)
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "probe linux bridge %q", name)
		}
		if exists {
			return m.Drv.LinkSetUp(name)
		}
		ovsExists, err := m.Drv.OVSBridgeExists(name)
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "probe ovs bridge %q", name)
		}
		if ovsExists {
			logf.Warn("bridge exists under ovs backend, recreating as linux bridge")
			_ = m.Drv.LinkSetDown(name)
			if err := m.Drv.OVSDelBridge(name); err != nil {
				return rerr.Wrap(rerr.CommandFailed, err, "delete mismatched ovs bridge %q", name)
			}
		}
		if err := m.Drv.LxbrAddBridge(name); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "create linux bridge %q", name)
		}
		return m.Drv.LinkSetUp(name)
	}

	exists, err := m.Drv.OVSBridgeExists(name)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "probe ovs bridge %q", name)
	}
	if exists {
		return m.Drv.LinkSetUp(name)
	}
	lxExists, err := m.Drv.LxbrBridgeExists(name)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "probe linux bridge %q", name)
	}
	if lxExists {
		logf.Warn("bridge exists under linux backend, recreating as ovs bridge")
		if err := m.Drv.LxbrDelBridge(name); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "delete mismatched linux bridge %q", name)
		}
	}
	if err := m.Drv.OVSAddBridge(name); err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "create ovs bridge %q", name)
	}
	return m.Drv.LinkSetUp(name)
}

// reconcileAddr implements the per-family address algorithm of §4.2 step 2:
// range changes clear reservations (I3), a changed or missing desired
// address clears/flushes, conflicts and out-of-range values are rejected
// (I1, I2).
func (m *Manager) reconcileAddr(bridge, family, rng, addr string, br *ledger.BridgeRecord, logf *logrus.Entry) error {
	if rng != br.RangeFor(family) {
		br.SetRangeFor(family, rng)
	}

	current := br.HostsFor(family)[bridge]

	if addr == "" {
		if current != "" {
			br.Release(family, bridge)
		}
		if err := m.Drv.AddrFlush(bridge, family); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "flush %s addr on %q", family, bridge)
		}
		return nil
	}

	if !strings.Contains(addr, "/") {
		return rerr.New(rerr.BadAddress, "bridge %q address %q missing /prefix", bridge, addr)
	}

	needsSet := false
	if addr != current {
		if current != "" {
			br.Release(family, bridge)
		}
		if holder := br.HolderOf(family, addr); holder != "" && holder != bridge {
			return rerr.New(rerr.AddressConflict, "address %q already reserved by %q on bridge %q", addr, holder, bridge)
		}
		if rng != "" && !ledger.InRange(addr, rng) {
			return rerr.New(rerr.OutOfRange, "address %q is outside range %q on bridge %q", addr, rng, bridge)
		}
		if err := m.Drv.AddrFlush(bridge, family); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "flush %s addr on %q", family, bridge)
		}
		needsSet = true
	} else {
		existing, err := m.Drv.IfaceAddrs(bridge, family)
		if err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "read %s addrs on %q", family, bridge)
		}
		found := false
		for _, e := range existing {
			if e == addr {
				found = true
				break
			}
		}
		needsSet = !found
	}

	if needsSet {
		if err := m.Drv.AddrAdd(bridge, addr); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "set %s addr %q on %q", family, addr, bridge)
		}
		br.Reserve(family, bridge, addr)
		logf.WithField("addr", addr).WithField("family", family).Debug("bridge address applied")
	}
	return nil
}
