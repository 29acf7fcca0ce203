// Package daemon wires the socketunit engine's collaborators (event loop,
// manifest loader/watcher, spawner, control bus, companion services) into
// one running process, and implements controlbus.Registry over the
// resulting unit table.
package daemon

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DankBSD/InitWare/internal/companion"
	"github.com/DankBSD/InitWare/internal/controlbus"
	"github.com/DankBSD/InitWare/internal/eventloop"
	"github.com/DankBSD/InitWare/internal/manifest"
	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/internal/spawner"
	"github.com/DankBSD/InitWare/shared/logger"
)

// Daemon owns every socket unit this process manages, plus the shared
// event loop, manifest loader and control bus they're all built on.
type Daemon struct {
	log   logger.Logger
	runID string

	dirs []string

	loop     *eventloop.Loop
	manifest *manifest.Loader
	spawner  *spawner.Spawner
	bus      *controlbus.Bus

	mu               sync.RWMutex
	units            map[string]*socketunit.SocketUnit
	serviceExecStart map[string][]string
}

// New constructs a Daemon that scans dirs for *.socket manifests.
func New(dirs []string, ambientCaps []string, log logger.Logger) (*Daemon, error) {
	loop, err := eventloop.New(log)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()

	d := &Daemon{
		log:              log.AddContext(logger.Ctx{"run": runID}),
		runID:            runID,
		dirs:             dirs,
		loop:             loop,
		spawner:          spawner.New(log, ambientCaps),
		units:            make(map[string]*socketunit.SocketUnit),
		serviceExecStart: make(map[string][]string),
	}

	d.manifest = manifest.NewLoader(dirs, d.newCompanionService, log)
	d.bus = controlbus.New(d, log)

	return d, nil
}

// RunID returns this process's run identifier, logged on every line this
// Daemon's logger emits and useful for correlating a status report back
// to a specific daemon invocation.
func (d *Daemon) RunID() string { return d.runID }

// Unit implements controlbus.Registry.
func (d *Daemon) Unit(id string) (controlbus.Controllable, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.units[id]

	return u, ok
}

// UnitIDs implements controlbus.Registry.
func (d *Daemon) UnitIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.units))
	for id := range d.units {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// newCompanionService is the manifest.Loader's ServiceUnit factory: the
// unit's own prefix (e.g. "echo" for both echo.socket and echo.service)
// looks up the ExecStart argv recorded by LoadAll.
func (d *Daemon) newCompanionService(id string) socketunit.ServiceUnit {
	prefix := d.manifest.UnitNameToPrefix(id)

	d.mu.RLock()
	argv := d.serviceExecStart[prefix]
	d.mu.RUnlock()

	var step *socketunit.ExecStep
	if len(argv) > 0 {
		step = &socketunit.ExecStep{Path: argv[0]}
	}

	return companion.New(id, step, argv, d.loop, d.spawner, d.log)
}

// LoadAll (re)scans the manifest directories and applies every decoded
// unit to its (possibly newly created) SocketUnit. A unit that fails
// Verify is logged rather than aborting the whole reload; a newly found
// one is left out of the unit table, while one already in the table
// stays there with the new configuration.
func (d *Daemon) LoadAll() error {
	if err := d.manifest.Scan(); err != nil {
		return err
	}

	units := d.manifest.Units()

	d.mu.Lock()
	for _, uf := range units {
		key := uf.ID
		if uf.ServiceTemplate != "" {
			key = d.manifest.UnitNameToPrefix(uf.ServiceTemplate)
		}

		if len(uf.ServiceExecStart) > 0 {
			d.serviceExecStart[key] = uf.ServiceExecStart
		}
	}
	d.mu.Unlock()

	for id, uf := range units {
		d.mu.Lock()
		u, exists := d.units[id]
		if !exists {
			u = socketunit.NewUnit(id, socketunit.Deps{
				Loop:     d.loop,
				Spawner:  d.spawner,
				Manifest: d.manifest,
				Bus:      d.bus,
				Logger:   d.log,
			})
			d.units[id] = u
		}
		d.mu.Unlock()

		u.Load(uf.Config, uf.Ports, uf.Commands, uf.ServiceTemplate)

		if err := u.Verify(); err != nil {
			d.log.Error("unit failed verification", logger.Ctx{"unit": id, "error": err.Error()})

			if !exists {
				d.mu.Lock()
				delete(d.units, id)
				d.mu.Unlock()
			}
		}
	}

	return nil
}

// StartAll starts every currently loaded unit.
func (d *Daemon) StartAll() {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, u := range d.units {
		if err := u.Start(); err != nil {
			d.log.Error("failed to start unit", logger.Ctx{"unit": id, "error": err.Error()})
		}
	}
}

// Run drives the event loop, the manifest drop-in watcher and the
// control bus's HTTP server until ctx is cancelled, then stops every
// unit and shuts everything down.
func (d *Daemon) Run(ctx context.Context, httpAddr string) error {
	go d.loop.Run()

	stopWatch := make(chan struct{})

	watcher, err := manifest.NewWatcher(d.dirs, d.log)
	if err != nil {
		d.log.Warn("manifest drop-in watch disabled", logger.Ctx{"error": err.Error()})
	} else {
		go watcher.Run(stopWatch, func() {
			if err := d.LoadAll(); err != nil {
				d.log.Error("manifest reload failed", logger.Ctx{"error": err.Error()})
			}
		})
	}

	srv := &http.Server{Addr: httpAddr, Handler: d.bus.Router()}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("control bus server failed", logger.Ctx{"error": err.Error()})
		}
	}()

	<-ctx.Done()

	close(stopWatch)

	d.mu.RLock()
	for _, u := range d.units {
		_ = u.Stop()
	}
	d.mu.RUnlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	d.loop.Stop()

	return nil
}
