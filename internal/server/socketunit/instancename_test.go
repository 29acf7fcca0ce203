package socketunit

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceStringIPv4(t *testing.T) {
	local := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.2"), Port: 54321}

	name, err := instanceString(3, local, remote)

	assert.NoError(t, err)
	assert.Equal(t, "3-127.0.0.1:8080-127.0.0.2:54321", name)
}

func TestInstanceStringIPv6(t *testing.T) {
	local := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}
	remote := &net.TCPAddr{IP: net.ParseIP("fe80::1"), Port: 443}

	name, err := instanceString(1, local, remote)

	assert.NoError(t, err)
	assert.Equal(t, "1-::1:80-fe80::1:443", name)
}

func TestInstanceStringMismatchedAddressTypes(t *testing.T) {
	local := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	remote := &net.UnixAddr{Name: "/tmp/x"}

	_, err := instanceString(1, local, remote)
	assert.Error(t, err)
}

func TestInstanceStringUnixRejectsDirectUse(t *testing.T) {
	_, err := instanceString(1, &net.UnixAddr{Name: "/tmp/x"}, &net.UnixAddr{Name: "/tmp/y"})
	assert.Error(t, err)
}
