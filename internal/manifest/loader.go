package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

// Loader is the concrete socketunit.ManifestLoader: it scans a search
// path of unit-drop-in directories, decodes every *.socket manifest it
// finds, and lazily instantiates companion service units on demand
// through a caller-supplied factory (the out-of-scope service state
// machine, per spec.md §6).
type Loader struct {
	mu sync.Mutex

	dirs       []string
	units      map[string]*UnitFile
	services   map[string]socketunit.ServiceUnit
	newService func(id string) socketunit.ServiceUnit

	log logger.Logger
}

// NewLoader constructs a Loader over dirs, searched in order with later
// entries' files overriding earlier ones of the same name (drop-in
// override semantics).
func NewLoader(dirs []string, newService func(id string) socketunit.ServiceUnit, log logger.Logger) *Loader {
	return &Loader{
		dirs:       dirs,
		units:      make(map[string]*UnitFile),
		services:   make(map[string]socketunit.ServiceUnit),
		newService: newService,
		log:        log,
	}
}

// Scan (re)reads every *.socket file across dirs, replacing the
// previously decoded set. A manifest that fails to parse is logged and
// skipped rather than aborting the whole scan, so one bad drop-in doesn't
// take every other unit down with it.
func (l *Loader) Scan() error {
	units := make(map[string]*UnitFile)

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("read %s: %w", dir, err)
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".socket") {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return fmt.Errorf("read %s: %w", e.Name(), err)
			}

			uf, err := Parse(e.Name(), data)
			if err != nil {
				l.log.Warn("skipping unparseable unit", logger.Ctx{"file": e.Name(), "error": err.Error()})
				continue
			}

			uf.ID = strings.TrimSuffix(e.Name(), ".socket")
			units[uf.ID] = uf
		}
	}

	l.mu.Lock()
	l.units = units
	l.mu.Unlock()

	return nil
}

// Units returns every currently decoded unit, keyed by ID.
func (l *Loader) Units() map[string]*UnitFile {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]*UnitFile, len(l.units))
	for k, v := range l.units {
		out[k] = v
	}

	return out
}

// Unit returns one decoded manifest by ID.
func (l *Loader) Unit(id string) (*UnitFile, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	uf, ok := l.units[id]

	return uf, ok
}

// LoadUnit implements socketunit.ManifestLoader: instantiates (and
// memoizes) the companion ServiceUnit for name.
func (l *Loader) LoadUnit(name string) (socketunit.ServiceUnit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if svc, ok := l.services[name]; ok {
		return svc, nil
	}

	if l.newService == nil {
		return nil, fmt.Errorf("no service factory configured")
	}

	svc := l.newService(name)
	l.services[name] = svc

	return svc, nil
}

// LoadRelatedUnit implements socketunit.ManifestLoader: resolves
// "<prefix>.<suffix>" relative to selfID.
func (l *Loader) LoadRelatedUnit(selfID, suffix string) (socketunit.ServiceUnit, error) {
	return l.LoadUnit(l.UnitNameBuild(l.UnitNameToPrefix(selfID), "", suffix))
}

// UnitNameToPrefix implements socketunit.ManifestLoader: strips the
// trailing ".suffix" and any "@instance" component.
func (l *Loader) UnitNameToPrefix(id string) string {
	name := id

	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[:dot]
	}

	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}

	return name
}

// UnitNameBuild implements socketunit.ManifestLoader.
func (l *Loader) UnitNameBuild(prefix, instance, suffix string) string {
	if instance == "" {
		return fmt.Sprintf("%s.%s", prefix, suffix)
	}

	return fmt.Sprintf("%s@%s.%s", prefix, instance, suffix)
}
