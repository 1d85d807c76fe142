// Command netorchd is the network-orchestration daemon: it loads the
// desired-state document, preflights the host, then runs the reconciler
// loop and the Mutation API concurrently until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/raikou-net/netorch/internal/api"
	"github.com/raikou-net/netorch/internal/config"
	"github.com/raikou-net/netorch/internal/hostdriver"
	"github.com/raikou-net/netorch/internal/ledger"
	"github.com/raikou-net/netorch/internal/preflight"
	"github.com/raikou-net/netorch/internal/reconciler"
	"github.com/sirupsen/logrus"
)

func main() {
	env := config.EnvFromOS()
	if env.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "main")

	drv := hostdriver.New(hostdriver.Exec{})

	if err := preflight.Run(drv, env.UseLinuxBridge); err != nil {
		log.WithError(err).Fatal("preflight failed")
	}

	store, err := config.Load(env.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load desired-state config")
	}

	lg, err := ledger.Open(env.LedgerPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open ledger")
	}

	engine := reconciler.New(drv, env.UseLinuxBridge, store, lg, env.LedgerPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	srv := api.New(engine)
	httpServer := &http.Server{Addr: ":8080", Handler: srv.Router()}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("mutation api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	_ = httpServer.Shutdown(context.Background())
}
