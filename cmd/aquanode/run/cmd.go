// Package run is the service mode: telemetry loop with metrics endpoint.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquanode/aquanode/cmd/aquanode/subcmd"
	"github.com/aquanode/aquanode/config"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/node"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

var Mod = subcmd.Mod{Name: "run", Usage: "telemetry loop until SIGINT or SIGTERM", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := node.Open(c, log, nil)
	if err != nil {
		return errors.Annotate(err, "node open")
	}
	defer func() {
		if err := sys.Close(); err != nil {
			log.Errorf("close err=%v", err)
		}
	}()

	if c.Metrics.Listen != "" {
		go func() {
			if err := sys.Metrics.Serve(ctx, c.Metrics.Listen, log); err != nil {
				log.Error(errors.ErrorStack(err))
			}
		}()
	}
	sys.Node.SetWatchdog(func() { subcmd.SdNotify(daemon.SdNotifyWatchdog) })

	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("node=%s init complete, running pid=%d", c.Node.Name, os.Getpid())
	err = sys.Node.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return err
}
