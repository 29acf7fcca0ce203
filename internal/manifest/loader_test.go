package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

type stubService struct{ id string }

func (s *stubService) ID() string { return s.id }
func (s *stubService) SetSocketFd(cfd *os.File, backref *socketunit.SocketUnit) error {
	return nil
}
func (s *stubService) EnqueueStart() error { return nil }
func (s *stubService) State() string       { return "dead" }
func (s *stubService) LoadState() string   { return "loaded" }
func (s *stubService) IsSysv() bool        { return false }
func (s *stubService) Result() socketunit.Result { return socketunit.ResultSuccess }

func writeUnit(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestScanSkipsUnparseableManifests(t *testing.T) {
	dir := t.TempDir()

	writeUnit(t, dir, "good.socket", "listen:\n  - address: \"unix:/run/good.sock\"\n")
	writeUnit(t, dir, "bad.socket", "listen: [this is not valid: [\n")
	writeUnit(t, dir, "ignored.txt", "not a unit at all")

	l := NewLoader([]string{dir}, nil, logger.NewForTesting())
	require.NoError(t, l.Scan())

	units := l.Units()
	require.Len(t, units, 1)
	_, ok := units["good"]
	assert.True(t, ok)
}

func TestScanToleratesMissingDirectory(t *testing.T) {
	l := NewLoader([]string{"/does/not/exist"}, nil, logger.NewForTesting())
	assert.NoError(t, l.Scan())
	assert.Empty(t, l.Units())
}

func TestLoadUnitMemoizesServiceInstances(t *testing.T) {
	calls := 0

	l := NewLoader(nil, func(id string) socketunit.ServiceUnit {
		calls++
		return &stubService{id: id}
	}, logger.NewForTesting())

	svc1, err := l.LoadUnit("echo.service")
	require.NoError(t, err)

	svc2, err := l.LoadUnit("echo.service")
	require.NoError(t, err)

	assert.Same(t, svc1, svc2)
	assert.Equal(t, 1, calls)
}

func TestUnitNameToPrefixStripsSuffixAndInstance(t *testing.T) {
	l := NewLoader(nil, nil, logger.NewForTesting())

	assert.Equal(t, "echo", l.UnitNameToPrefix("echo.socket"))
	assert.Equal(t, "echo", l.UnitNameToPrefix("echo@192.0.2.1:80.service"))
}

func TestUnitNameBuild(t *testing.T) {
	l := NewLoader(nil, nil, logger.NewForTesting())

	assert.Equal(t, "echo.service", l.UnitNameBuild("echo", "", "service"))
	assert.Equal(t, "echo@1.service", l.UnitNameBuild("echo", "1", "service"))
}
