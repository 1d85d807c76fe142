// Package hostdriver wraps every external command the daemon ever runs
// behind a single Runner interface, so the reconciliation packages can be
// exercised against a fake that records invocations instead of a real host.
package hostdriver

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "hostdriver")

// Result captures the outcome of a single command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and returns its captured output. When check is
// true, a non-zero exit code is turned into a non-nil error; when false, the
// caller inspects Result itself (used for existence probes).
type Runner interface {
	Run(cmd []string, check bool) (Result, error)
}

// Exec is the production Runner, shelling out via os/exec.
type Exec struct{}

func (Exec) Run(cmd []string, check bool) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("hostdriver: empty command")
	}
	log.WithField("cmd", strings.Join(cmd, " ")).Debug("exec")

	c := exec.Command(cmd[0], cmd[1:]...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("hostdriver: start %q: %w", strings.Join(cmd, " "), runErr)
		}
	}

	res := Result{
		Stdout:   strings.TrimRight(stdout.String(), "\n"),
		Stderr:   strings.TrimRight(stderr.String(), "\n"),
		ExitCode: exitCode,
	}

	if check && exitCode != 0 {
		return res, fmt.Errorf("hostdriver: command %q failed (exit %d): %s", strings.Join(cmd, " "), exitCode, res.Stderr)
	}
	return res, nil
}

// Driver layers typed helpers on top of a Runner, matching the shape of
// commands the original orchestrator issues.
type Driver struct {
	R Runner
}

func New(r Runner) *Driver {
	if r == nil {
		r = Exec{}
	}
	return &Driver{R: r}
}

var inetLine = regexp.MustCompile(`inet6?\s+(\S+)`)

// IfaceAddrs returns every address/prefix currently configured on an
// interface for the given family ("4" or "6").
func (d *Driver) IfaceAddrs(iface string, family string) ([]string, error) {
	flag := "-4"
	if family == "6" {
		flag = "-6"
	}
	res, err := d.R.Run([]string{"ip", "-o", flag, "addr", "show", iface}, false)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		m := inetLine.FindStringSubmatch(line)
		if m != nil {
			out = append(out, m[1])
		}
	}
	return out, nil
}

// LinkExists reports whether a netdev with this name currently exists.
func (d *Driver) LinkExists(name string) (bool, error) {
	res, err := d.R.Run([]string{"ip", "link", "show", name}, false)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// LinkSetUp brings an interface administratively up.
func (d *Driver) LinkSetUp(name string) error {
	_, err := d.R.Run([]string{"ip", "link", "set", name, "up"}, true)
	return err
}

// LinkSetDown brings an interface administratively down.
func (d *Driver) LinkSetDown(name string) error {
	_, err := d.R.Run([]string{"ip", "link", "set", name, "down"}, true)
	return err
}

// AddrFlush removes every address of the given family from an interface.
func (d *Driver) AddrFlush(name string, family string) error {
	flag := "-4"
	if family == "6" {
		flag = "-6"
	}
	_, err := d.R.Run([]string{"ip", flag, "addr", "flush", "dev", name}, true)
	return err
}

// AddrAdd assigns addr/prefix (e.g. "10.0.0.1/24") to an interface.
func (d *Driver) AddrAdd(name, addrWithPrefix string) error {
	_, err := d.R.Run([]string{"ip", "addr", "add", addrWithPrefix, "dev", name}, true)
	return err
}

// LsmodHas reports whether a kernel module is currently loaded.
func (d *Driver) LsmodHas(module string) (bool, error) {
	res, err := d.R.Run([]string{"sh", "-c", "lsmod | grep " + module}, false)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0 && strings.Contains(res.Stdout, module), nil
}

// Sysctl sets a sysctl key, logging (not failing) on error, matching the
// original orchestrator's best-effort tuning of the Linux-bridge backend.
func (d *Driver) Sysctl(key, value string) {
	_, err := d.R.Run([]string{"sysctl", "-w", fmt.Sprintf("%s=%s", key, value)}, true)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("sysctl set failed")
	}
}

// DockerExists reports whether a container with this name is currently running.
func (d *Driver) DockerExists(name string) (bool, error) {
	res, err := d.R.Run([]string{"docker", "ps", "-f", "name=^" + name + "$", "-q"}, true)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// DockerHasIface reports whether a container namespace currently has an
// interface with this name.
func (d *Driver) DockerHasIface(container, iface string) (bool, error) {
	res, err := d.R.Run([]string{"docker", "exec", container, "ip", "link", "show", iface}, false)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// DockerDelIface removes an interface from inside a container's namespace.
func (d *Driver) DockerDelIface(container, iface string) error {
	_, err := d.R.Run([]string{"docker", "exec", container, "ip", "link", "del", iface}, true)
	return err
}

// ResolveUSB resolves a "usb:<bus-id>" sentinel to exactly one interface
// name by grepping /sys/class/net symlinks, matching the behavior of the
// original orchestrator's USB interface resolution.
func (d *Driver) ResolveUSB(busID string) (string, error) {
	res, err := d.R.Run([]string{"sh", "-c", "ls -l /sys/class/net | grep " + busID}, false)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		matches = append(matches, fields[len(fields)-1])
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("hostdriver: usb bus %q resolved to %d interfaces, want exactly 1", busID, len(matches))
	}
	last := matches[0]
	if idx := strings.LastIndex(last, "/"); idx >= 0 {
		last = last[idx+1:]
	}
	return last, nil
}
