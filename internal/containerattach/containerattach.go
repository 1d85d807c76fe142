// Package containerattach implements EnsureContainerIface: attaching a
// named interface inside a running container to a bridge, auto-allocating
// addresses when unspecified, recovering from zombie interfaces left by a
// prior daemon restart, and applying VLAN mode.
package containerattach

import (
	"strconv"
	"strings"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "containerattach")

const noIP = "No-IP"

// Attacher ensures container interfaces converge to their desired state.
type Attacher struct {
	Drv            *hostdriver.Driver
	UseLinuxBridge bool
}

func New(drv *hostdriver.Driver, useLinuxBridge bool) *Attacher {
	return &Attacher{Drv: drv, UseLinuxBridge: useLinuxBridge}
}

// EnsureContainerIface implements §4.5.
func (a *Attacher) EnsureContainerIface(spec *config.ContainerInterface, br *ledger.BridgeRecord) error {
	logf := log.WithField("container", spec.Container).WithField("iface", spec.Iface)

	exists, err := a.Drv.DockerExists(spec.Container)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "probe container %q", spec.Container)
	}
	if !exists {
		logf.Debug("container not running, deferring to next cycle")
		return nil
	}

	if err := a.reconcileZombie(spec, logf); err != nil {
		return err
	}

	// if the interface already exists and is registered as a bridge port,
	// this cycle has nothing to do. Checked before resolveAddr, since
	// resolveAddr's auto-allocate path reserves a fresh address as a side
	// effect and must not run against an already-attached container (it
	// would treat the container's own reservation as taken and allocate a
	// second address out from under it every cycle).
	alreadyDone, err := a.alreadyAttached(spec)
	if err != nil {
		return err
	}
	if alreadyDone {
		return nil
	}

	opts := hostdriver.AddPortOpts{
		MACAddress: spec.MAC,
		Gateway:    spec.Gateway,
		Gateway6:   spec.Gateway6,
	}

	v4, err := a.resolveAddr("4", spec, br)
	if err != nil {
		return err
	}
	opts.IPv4 = v4

	v6, err := a.resolveAddr("6", spec, br)
	if err != nil {
		return err
	}
	opts.IPv6 = v6

	if err := a.Drv.HelperAddPort(a.UseLinuxBridge, spec.Bridge, spec.Iface, spec.Container, opts); err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "add-port %q on container %q", spec.Iface, spec.Container)
	}

	if spec.Vlan.Kind == config.VlanTrunk {
		if err := a.Drv.HelperSetTrunk(a.UseLinuxBridge, spec.Bridge, spec.Iface, spec.Container, spec.Vlan.TrunksString()); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "set-trunk on %q", spec.Iface)
		}
	} else if spec.Vlan.IsSet() {
		vid := strconv.Itoa(spec.Vlan.VID)
		if err := a.Drv.HelperSetVlan(a.UseLinuxBridge, spec.Bridge, spec.Iface, spec.Container, vid); err != nil {
			return rerr.Wrap(rerr.CommandFailed, err, "set-vlan on %q", spec.Iface)
		}
	}

	logf.Info("container interface attached")
	return nil
}

// reconcileZombie implements §4.5 step 2/§10 P4: either the interface was
// removed from inside the container externally, or it's present with no
// corresponding bridge-port registration (a leftover from a prior daemon
// restart). Either way, issue a best-effort helper del-port first so a
// stale port record never survives into the add-port below, matching the
// original orchestrator's always-del-then-add sequencing.
func (a *Attacher) reconcileZombie(spec *config.ContainerInterface, logf *logrus.Entry) error {
	hasIface, err := a.Drv.DockerHasIface(spec.Container, spec.Iface)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "probe iface %q in container %q", spec.Iface, spec.Container)
	}
	if !hasIface {
		_ = a.Drv.HelperDelPort(a.UseLinuxBridge, spec.Bridge, spec.Container, spec.Iface)
		return nil
	}
	port, err := a.Drv.HelperGetPort(a.UseLinuxBridge, spec.Bridge, spec.Container, spec.Iface)
	if err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "query bridge port for %q", spec.Iface)
	}
	if port != "" {
		return nil
	}
	logf.Warn("zombie interface detected, recreating")
	if err := a.Drv.DockerDelIface(spec.Container, spec.Iface); err != nil {
		return rerr.Wrap(rerr.CommandFailed, err, "delete zombie iface %q", spec.Iface)
	}
	_ = a.Drv.HelperDelPort(a.UseLinuxBridge, spec.Bridge, spec.Container, spec.Iface)
	return nil
}

// alreadyAttached reports whether the interface exists in-container and is
// registered as a bridge port, meaning this cycle has nothing to do.
func (a *Attacher) alreadyAttached(spec *config.ContainerInterface) (bool, error) {
	hasIface, err := a.Drv.DockerHasIface(spec.Container, spec.Iface)
	if err != nil {
		return false, rerr.Wrap(rerr.CommandFailed, err, "probe iface %q in container %q", spec.Iface, spec.Container)
	}
	if !hasIface {
		return false, nil
	}
	port, err := a.Drv.HelperGetPort(a.UseLinuxBridge, spec.Bridge, spec.Container, spec.Iface)
	if err != nil {
		return false, rerr.Wrap(rerr.CommandFailed, err, "query bridge port for %q", spec.Iface)
	}
	return port != "", nil
}

// resolveAddr implements the IPv4/IPv6 branch of §4.5 step 3: No-IP opts
// out, an absent address is auto-allocated from the bridge's range (§4.6),
// and an explicit address is validated against the ledger's reservations.
func (a *Attacher) resolveAddr(family string, spec *config.ContainerInterface, br *ledger.BridgeRecord) (string, error) {
	raw := spec.IPv4
	if family == "6" {
		raw = spec.IPv6
	}

	if raw == noIP {
		return "", nil
	}

	rng := br.RangeFor(family)

	if raw == "" {
		if rng == "" {
			return "", nil
		}
		return br.AutoAllocate(family, spec.Container, rng)
	}

	if !strings.Contains(raw, "/") {
		return "", rerr.New(rerr.BadAddress, "container %q interface %q address %q missing /prefix", spec.Container, spec.Iface, raw)
	}

	current := br.HostsFor(family)[spec.Container]
	if raw != current {
		if current != "" {
			br.Release(family, spec.Container)
		}
		if holder := br.HolderOf(family, raw); holder != "" && holder != spec.Container {
			return "", rerr.New(rerr.AddressConflict, "address %q already reserved by %q", raw, holder)
		}
		br.Reserve(family, spec.Container, raw)
	}
	return raw, nil
}

