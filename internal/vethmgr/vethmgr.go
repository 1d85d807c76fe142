// Package vethmgr implements EnsureVethPair: creating or locating a veth
// pair and attaching each end to a bridge with access or trunk VLAN
// semantics, supporting a dangling (unattached) second end.
package vethmgr

import (
	"github.com/raikou-net/netorch/internal/bridgemgr"
	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "vethmgr")

// Manager ensures veth pairs converge to their desired state. Port
// attachment and VLAN application reuse bridgemgr's OVS/Linux-bridge port
// logic, since a veth end attaches to a bridge exactly like a parent does.
type Manager struct {
	Drv            *hostdriver.Driver
	UseLinuxBridge bool
	ports          *bridgemgr.Manager
}

func New(drv *hostdriver.Driver, useLinuxBridge bool) *Manager {
	return &Manager{Drv: drv, UseLinuxBridge: useLinuxBridge, ports: bridgemgr.New(drv, useLinuxBridge)}
}

// EnsureVethPair implements §4.7.
func (m *Manager) EnsureVethPair(v *config.VethPair, lg *ledger.Ledger) error {
	if len(v.Prefix) > 8 {
		return rerr.New(rerr.BadPrefix, "veth prefix %q exceeds 8 characters", v.Prefix)
	}

	veth0 := "v0_" + v.Prefix
	veth1 := "v1_" + v.Prefix

	exists, err := m.Drv.LinkExists(veth0)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "probe %q", veth0)
	}
	if !exists {
		if _, err := m.Drv.R.Run([]string{"ip", "link", "add", veth0, "type", "veth", "peer", "name", veth1}, true); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "create veth pair %q/%q", veth0, veth1)
		}
		if err := m.Drv.LinkSetUp(veth0); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "bring up %q", veth0)
		}
		if err := m.Drv.LinkSetUp(veth1); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "bring up %q", veth1)
		}
		log.WithField("prefix", v.Prefix).Info("veth pair created")
	}

	source, dest := v.SourceDest()
	br := lg.Bridge(v.OnBridge)

	if err := m.attachEnd(veth0, v.OnBridge, source, v.Trunk, br); err != nil {
		return err
	}
	if dest != "" {
		if err := m.attachEnd(veth1, v.OnBridge, dest, v.Trunk, br); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) attachEnd(iface, bridge, vlanSpec string, trunk bool, br *ledger.BridgeRecord) error {
	var mode config.VlanMode
	var err error
	if trunk {
		mode, err = config.ParseVlanFields("", vlanSpec, "")
	} else {
		mode, err = config.ParseVlanFields(vlanSpec, "", "")
	}
	if err != nil {
		return err
	}

	logf := log.WithField("iface", iface).WithField("bridge", bridge)
	if m.UseLinuxBridge {
		return m.ports.AttachLinuxPort(bridge, iface, mode, br, logf)
	}
	return m.ports.AttachOVSPort(bridge, iface, mode, br, logf)
}
