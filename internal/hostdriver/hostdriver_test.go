package hostdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIfaceAddrs(t *testing.T) {
	f := NewFake()
	f.On([]string{"ip", "-o", "-4", "addr", "show", "br0"}, Result{
		Stdout: "2: br0    inet 10.0.0.1/24 brd 10.0.0.255 scope global br0",
	})
	d := New(f)

	addrs, err := d.IfaceAddrs("br0", "4")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1/24"}, addrs)
}

func TestLinkExists(t *testing.T) {
	f := NewFake()
	f.On([]string{"ip", "link", "show", "eth1"}, Result{ExitCode: 0})
	d := New(f)

	ok, err := d.LinkExists("eth1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveUSB_ExactlyOneMatch(t *testing.T) {
	f := NewFake()
	f.On([]string{"sh", "-c", "ls -l /sys/class/net | grep 1-1.2"}, Result{
		Stdout: "lrwxrwxrwx 1 root root 0 Jan  1 00:00 eth2 -> ../../devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.2/net/eth2",
	})
	d := New(f)

	name, err := d.ResolveUSB("1-1.2")
	require.NoError(t, err)
	assert.Equal(t, "eth2", name)
}

func TestResolveUSB_AmbiguousFails(t *testing.T) {
	f := NewFake()
	f.On([]string{"sh", "-c", "ls -l /sys/class/net | grep 1-1"}, Result{
		Stdout: "a -> .../1-1.1/net/eth2\nb -> .../1-1.2/net/eth3",
	})
	d := New(f)

	_, err := d.ResolveUSB("1-1")
	require.Error(t, err)
}

func TestFakeCheckedFailurePropagatesError(t *testing.T) {
	f := NewFake()
	f.On([]string{"ovs-vsctl", "add-br", "br0"}, Result{ExitCode: 1, Stderr: "boom"})
	d := New(f)

	_, err := d.R.Run([]string{"ovs-vsctl", "add-br", "br0"}, true)
	require.Error(t, err)
}
