package containerattach

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *ledger.BridgeRecord {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	return l.Bridge("br0")
}

func TestEnsureContainerIface_ContainerNotRunningDefers(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{})
	drv := hostdriver.New(f)
	a := New(drv, false)
	br := newTestBridge(t)

	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", Bridge: "br0"}
	err := a.EnsureContainerIface(spec, br)
	require.NoError(t, err)
	assert.Empty(t, br.HostsFor("4"))
}

func TestEnsureContainerIface_AutoAllocatesAndSetsVlan(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{Stdout: "abc123"})
	f.On([]string{"docker", "exec", "c1", "ip", "link", "show", "eth0"}, hostdriver.Result{ExitCode: 1})
	f.On([]string{"ovs-docker", "get-port-name", "br0", "c1", "eth0"}, hostdriver.Result{ExitCode: 1})
	f.On([]string{"ovs-docker", "add-port", "br0", "eth0", "c1", "--ipaddress=10.1.0.6/24"}, hostdriver.Result{})
	f.On([]string{"ovs-docker", "set-vlan", "br0", "eth0", "c1", "100"}, hostdriver.Result{})

	drv := hostdriver.New(f)
	a := New(drv, false)
	br := newTestBridge(t)
	br.SetRangeFor("4", "10.1.0.0/24")

	vlan, err := config.ParseVlanFields("100", "", "")
	require.NoError(t, err)
	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", Bridge: "br0", Vlan: vlan}

	err = a.EnsureContainerIface(spec, br)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.6/24", br.HostsFor("4")["c1"])
}

// TestEnsureContainerIface_RepeatApplyReservationStable covers P1
// idempotence: once a container's auto-allocated interface is attached and
// registered, a later reconcile cycle must not re-run address resolution
// (and its AutoAllocate/Reserve side effects) and must leave the ledger
// reservation untouched.
func TestEnsureContainerIface_RepeatApplyReservationStable(t *testing.T) {
	br := newTestBridge(t)
	br.SetRangeFor("4", "10.1.0.0/24")
	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", Bridge: "br0"}

	first := hostdriver.NewFake()
	first.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{Stdout: "abc123"})
	first.On([]string{"docker", "exec", "c1", "ip", "link", "show", "eth0"}, hostdriver.Result{ExitCode: 1})
	first.On([]string{"ovs-docker", "get-port-name", "br0", "c1", "eth0"}, hostdriver.Result{ExitCode: 1})
	first.On([]string{"ovs-docker", "add-port", "br0", "eth0", "c1", "--ipaddress=10.1.0.6/24"}, hostdriver.Result{})

	a := New(hostdriver.New(first), false)
	require.NoError(t, a.EnsureContainerIface(spec, br))
	require.Equal(t, "10.1.0.6/24", br.HostsFor("4")["c1"])

	// second cycle: the interface now exists and is registered as a bridge
	// port, so alreadyAttached must short-circuit before any AutoAllocate
	// call that would otherwise treat the existing reservation as taken and
	// hand out a second address.
	second := hostdriver.NewFake()
	second.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{Stdout: "abc123"})
	second.On([]string{"docker", "exec", "c1", "ip", "link", "show", "eth0"}, hostdriver.Result{ExitCode: 0})
	second.On([]string{"ovs-docker", "get-port-name", "br0", "c1", "eth0"}, hostdriver.Result{Stdout: "eth0"})

	a2 := New(hostdriver.New(second), false)
	require.NoError(t, a2.EnsureContainerIface(spec, br))
	assert.Equal(t, "10.1.0.6/24", br.HostsFor("4")["c1"])

	for _, c := range second.Calls {
		joined := strings.Join(c, " ")
		assert.NotContains(t, joined, "add-port")
	}
}

func TestEnsureContainerIface_ZombieRecreated(t *testing.T) {
	f := hostdriver.NewFake()
	f.On([]string{"docker", "ps", "-f", "name=^c1$", "-q"}, hostdriver.Result{Stdout: "abc123"})
	// first probe (zombie check): iface exists, but no registered port
	f.Stubs["docker exec c1 ip link show eth0"] = hostdriver.Result{ExitCode: 0}
	f.Stubs["ovs-docker get-port-name br0 c1 eth0"] = hostdriver.Result{ExitCode: 1}
	f.On([]string{"docker", "exec", "c1", "ip", "link", "del", "eth0"}, hostdriver.Result{})
	f.On([]string{"ovs-docker", "del-port", "br0", "eth0", "c1"}, hostdriver.Result{ExitCode: 1})
	f.On([]string{"ovs-docker", "add-port", "br0", "eth0", "c1"}, hostdriver.Result{})

	drv := hostdriver.New(f)
	a := New(drv, false)
	br := newTestBridge(t)

	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", Bridge: "br0", IPv4: "No-IP"}
	err := a.EnsureContainerIface(spec, br)
	require.NoError(t, err)

	// del-port (zombie cleanup) and "del link" both issued
	foundDelLink, foundDelPort := false, false
	for _, c := range f.Calls {
		switch strings.Join(c, " ") {
		case "docker exec c1 ip link del eth0":
			foundDelLink = true
		case "ovs-docker del-port br0 eth0 c1":
			foundDelPort = true
		}
	}
	assert.True(t, foundDelLink)
	assert.True(t, foundDelPort)
}

func TestResolveAddr_ConflictRejected(t *testing.T) {
	br := newTestBridge(t)
	br.Reserve("4", "other", "10.1.0.10/24")

	a := &Attacher{}
	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", IPv4: "10.1.0.10/24"}
	_, err := a.resolveAddr("4", spec, br)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.AddressConflict))
}

func TestResolveAddr_NoIPSkips(t *testing.T) {
	br := newTestBridge(t)
	a := &Attacher{}
	spec := &config.ContainerInterface{Container: "c1", Iface: "eth0", IPv4: noIP}
	addr, err := a.resolveAddr("4", spec, br)
	require.NoError(t, err)
	assert.Empty(t, addr)
}
