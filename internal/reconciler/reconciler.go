// Package reconciler implements the periodic convergence loop: bridges,
// then container interfaces, then veth pairs, all under a single Mutation
// Lock shared with the API so the loop and API-driven mutations never race.
package reconciler

import (
	"context"
	"time"

	"github.com/raikou-net/netorch/internal/bridgemgr"
	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/containerattach"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/vethmgr"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "reconciler")

// MaxFailCount is the number of consecutive failing cycles tolerated
// before the process exits non-zero, so a container manager restarts it
// fresh rather than let it spin against a permanently broken host.
const MaxFailCount = 2

// CycleInterval is the pause between reconciliation cycles.
const CycleInterval = 15 * time.Second

// Engine owns the Mutation Lock, the ledger, and the desired-state store,
// and runs the background convergence loop.
type Engine struct {
	// Lock is the single exclusive, non-recursive lock serializing the
	// reconciler against API-driven mutations. go-deadlock catches a
	// reentrant acquire in development/test builds instead of silently
	// wedging a production daemon.
	Lock deadlock.Mutex

	Store  *config.Store
	Ledger *ledger.Ledger

	bridges    *bridgemgr.Manager
	containers *containerattach.Attacher
	veths      *vethmgr.Manager

	ledgerPath string
}

// New wires the Engine's sub-managers from a single host Driver.
func New(drv *hostdriver.Driver, useLinuxBridge bool, store *config.Store, lg *ledger.Ledger, ledgerPath string) *Engine {
	return &Engine{
		Store:      store,
		Ledger:     lg,
		bridges:    bridgemgr.New(drv, useLinuxBridge),
		containers: containerattach.New(drv, useLinuxBridge),
		veths:      vethmgr.New(drv, useLinuxBridge),
		ledgerPath: ledgerPath,
	}
}

// Run executes the convergence loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		e.runCycle()

		select {
		case <-ctx.Done():
			log.Info("reconciler stopping")
			return
		case <-time.After(CycleInterval):
		}
	}
}

// runCycle executes exactly one reconciliation pass under the Mutation
// Lock and updates the failure counter. A MaxFailCount-exceeding streak
// terminates the process so the surrounding container manager restarts it.
func (e *Engine) runCycle() {
	e.Lock.Lock()
	defer e.Lock.Unlock()

	if err := e.applyOnce(); err != nil {
		log.WithError(err).Error("reconciliation cycle failed")
		failed := e.Ledger.IncrementFailed()
		_ = e.Ledger.Save()
		if failed > MaxFailCount {
			log.WithField("failed", failed).Fatal("exceeded max consecutive failures, exiting for restart")
		}
		return
	}
	e.Ledger.ResetFailed()
	if err := e.Ledger.Save(); err != nil {
		log.WithError(err).Error("failed to persist ledger")
	}
}

// ApplyBridge immediately applies a single bridge spec to the live host.
// Callers (the API) must hold Lock.
func (e *Engine) ApplyBridge(name string, b *config.Bridge) error {
	return e.bridges.EnsureBridge(name, b, e.Ledger)
}

// ApplyContainerIface immediately applies a single container interface spec
// to the live host. Callers (the API) must hold Lock.
func (e *Engine) ApplyContainerIface(ci *config.ContainerInterface) error {
	br := e.Ledger.Bridge(ci.Bridge)
	return e.containers.EnsureContainerIface(ci, br)
}

// ApplyVethPair immediately applies a single veth pair spec to the live
// host. Callers (the API) must hold Lock.
func (e *Engine) ApplyVethPair(v *config.VethPair) error {
	return e.veths.EnsureVethPair(v, e.Ledger)
}

// applyOnce runs bridges, then containers, then veth pairs, in that order:
// containers reference bridges and veth pairs reference their target
// bridge, so later stages must observe an already-reconciled bridge set.
func (e *Engine) applyOnce() error {
	bridges, containers, veths := e.Store.Snapshot()

	for name, spec := range bridges {
		if err := e.bridges.EnsureBridge(name, spec, e.Ledger); err != nil {
			return err
		}
	}

	for _, ifaces := range containers {
		for _, ci := range ifaces {
			br := e.Ledger.Bridge(ci.Bridge)
			if err := e.containers.EnsureContainerIface(ci, br); err != nil {
				return err
			}
		}
	}

	for _, v := range veths {
		if err := e.veths.EnsureVethPair(v, e.Ledger); err != nil {
			return err
		}
	}
	return nil
}
