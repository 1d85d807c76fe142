// Package preflight runs the daemon's startup checks: a real round-trip to
// the docker socket (not just a stat), the OVS kernel module when running
// against the OVS backend, and best-effort sysctl tuning for the
// Linux-bridge backend.
package preflight

import (
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/rerr"
	"github.com/samalba/dockerclient"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "preflight")

const dockerSocket = "unix:///var/run/docker.sock"

// Run executes every startup check, returning a FatalPreflight error for
// anything that must abort startup.
func Run(drv *hostdriver.Driver, useLinuxBridge bool) error {
	if err := checkDocker(); err != nil {
		return err
	}

	if useLinuxBridge {
		drv.Sysctl("net.bridge.bridge-nf-call-iptables", "0")
		return nil
	}

	ok, err := drv.LsmodHas("openvswitch")
	if err != nil {
		return rerr.Wrap(rerr.FatalPreflight, err, "probe openvswitch kernel module")
	}
	if !ok {
		return rerr.New(rerr.FatalPreflight, "openvswitch kernel module is not loaded")
	}
	return nil
}

// checkDocker dials the docker socket with a real client rather than
// os.Stat, catching a stale bind-mount where the socket file exists but
// nothing is listening on it.
func checkDocker() error {
	client, err := dockerclient.NewDockerClient(dockerSocket, nil)
	if err != nil {
		return rerr.Wrap(rerr.FatalPreflight, err, "build docker client")
	}
	if _, err := client.Info(); err != nil {
		return rerr.Wrap(rerr.FatalPreflight, err, "docker socket unreachable at %s", dockerSocket)
	}
	log.Debug("docker socket reachable")
	return nil
}
