package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/DankBSD/InitWare/internal/daemon"
	"github.com/DankBSD/InitWare/shared/logger"
)

type cmdDaemon struct {
	global *cmdGlobal

	flagUnitDirs    string
	flagHTTPAddr    string
	flagLockFile    string
	flagAmbientCaps string
}

func (c *cmdDaemon) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "daemon"
	cmd.Short = "Run the socket unit engine"
	cmd.Long = `Description:
  Run the socket unit engine

  Scans the given unit directories for *.socket manifests, opens every
  listening descriptor they declare, and hands each one off to its
  companion service on activation.
`
	cmd.RunE = c.Run
	cmd.Flags().StringVar(&c.flagUnitDirs, "unit-dirs", "/etc/socketunit.d:/run/socketunit.d", "Colon-separated list of manifest directories")
	cmd.Flags().StringVar(&c.flagHTTPAddr, "http", "127.0.0.1:7424", "Address the control bus listens on")
	cmd.Flags().StringVar(&c.flagLockFile, "lock-file", "/run/socketunitd.lock", "Single-instance lock file path")
	cmd.Flags().StringVar(&c.flagAmbientCaps, "ambient-caps", "", "Comma-separated ambient capabilities granted to spawned units")

	return cmd
}

func (c *cmdDaemon) Run(cmd *cobra.Command, args []string) error {
	lock := flock.New(c.flagLockFile)

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", c.flagLockFile, err)
	}

	if !locked {
		return fmt.Errorf("another socketunitd instance holds %s", c.flagLockFile)
	}

	defer lock.Unlock()

	dirs := splitNonEmpty(c.flagUnitDirs, ":")

	var ambientCaps []string
	if c.flagAmbientCaps != "" {
		ambientCaps = splitNonEmpty(c.flagAmbientCaps, ",")
	}

	d, err := daemon.New(dirs, ambientCaps, c.global.log)
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	if err := d.LoadAll(); err != nil {
		return fmt.Errorf("load unit manifests: %w", err)
	}

	d.StartAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT)

	go func() {
		<-sigCh
		c.global.log.Info("shutdown signal received")
		cancel()
	}()

	c.global.log.Info("socketunitd started", logger.Ctx{"run": d.RunID(), "http": c.flagHTTPAddr})

	return d.Run(ctx, c.flagHTTPAddr)
}

func splitNonEmpty(s, sep string) []string {
	var out []string

	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}
