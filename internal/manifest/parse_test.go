package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
)

func TestParseMinimalTCPSocket(t *testing.T) {
	data := []byte(`
listen:
  - address: "0.0.0.0:8080"
serviceExecStart: ["/usr/bin/echod", "--port=8080"]
`)

	uf, err := Parse("echo.socket", data)
	require.NoError(t, err)

	require.Len(t, uf.Ports, 1)
	sa, ok := uf.Ports[0].Address.(socketunit.SocketAddress)
	require.True(t, ok)
	assert.Equal(t, unix.AF_INET, sa.Family)
	assert.Equal(t, unix.SOCK_STREAM, sa.Type)
	assert.Equal(t, 8080, sa.Port)

	assert.Equal(t, []string{"/usr/bin/echod", "--port=8080"}, uf.ServiceExecStart)

	// Omitted keys keep socketunit.DefaultConfig()'s values.
	assert.Equal(t, socketunit.DefaultConfig().MaxConnections, uf.Config.MaxConnections)
}

func TestParseUnixSocketAndAcceptMode(t *testing.T) {
	data := []byte(`
accept: true
maxConnections: 16
listen:
  - address: "unix:/run/echo.sock"
`)

	uf, err := Parse("echo.socket", data)
	require.NoError(t, err)

	require.Len(t, uf.Ports, 1)
	sa, ok := uf.Ports[0].Address.(socketunit.SocketAddress)
	require.True(t, ok)
	assert.Equal(t, unix.AF_UNIX, sa.Family)
	assert.Equal(t, "/run/echo.sock", sa.Path)

	assert.True(t, uf.Config.Accept)
	assert.Equal(t, 16, uf.Config.MaxConnections)
}

func TestParseExecStepsChainNext(t *testing.T) {
	data := []byte(`
listen:
  - address: "unix:/run/x.sock"
execStartPre:
  - path: "/bin/first"
  - path: "/bin/second"
    args: ["-v"]
`)

	uf, err := Parse("x.socket", data)
	require.NoError(t, err)

	steps := uf.Commands[socketunit.PhaseStartPre]
	require.Len(t, steps, 2)
	assert.Equal(t, "/bin/first", steps[0].Path)
	require.NotNil(t, steps[0].Next)
	assert.Same(t, steps[1], steps[0].Next)
	assert.Equal(t, []string{"/bin/second", "-v"}, steps[1].Argv)
	assert.Nil(t, steps[1].Next)
}

func TestParseRejectsUnknownListenKind(t *testing.T) {
	data := []byte(`
listen:
  - kind: "bogus"
    address: "/whatever"
`)

	_, err := Parse("bad.socket", data)
	assert.Error(t, err)
}

func TestParseFifoPort(t *testing.T) {
	data := []byte(`
listen:
  - kind: fifo
    address: "/run/x.fifo"
`)

	uf, err := Parse("x.socket", data)
	require.NoError(t, err)

	require.Len(t, uf.Ports, 1)
	assert.Equal(t, socketunit.KindFifo, uf.Ports[0].Kind)
	pa, ok := uf.Ports[0].Address.(socketunit.PathAddress)
	require.True(t, ok)
	assert.Equal(t, "/run/x.fifo", pa.Path)
}
