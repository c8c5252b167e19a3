package portutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatePort(t *testing.T) {
	port, err := AllocatePort("127.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.NoError(t, CheckAvailable("127.0.0.1", port))
}

func TestCheckAvailable_InUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	err = CheckAvailable("127.0.0.1", port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}
