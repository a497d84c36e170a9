package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open("modbus://10.0.0.1:502", 300)
	assert.Error(t, err)
}

func TestTunnelPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port, err := Open("tcp://"+ln.Addr().String(), 300)
	require.NoError(t, err)
	defer port.Close()
	remote := <-accepted
	defer remote.Close()

	n, err := port.Write([]byte("/?!\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	buf := make([]byte, 16)
	n, err = remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("/?!\r\n"), buf[:n])

	_, err = remote.Write([]byte{0x06})
	require.NoError(t, err)
	n, err = port.Read(buf, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06}, buf[:n])

	// An expired deadline is silence, not a transport fault.
	n, err = port.Read(buf, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The bridge owns the physical line.
	assert.NoError(t, port.SetSpeed(9600))
}

func TestTunnelReadAfterPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port, err := Open("tcp://"+ln.Addr().String(), 300)
	require.NoError(t, err)
	defer port.Close()
	(<-accepted).Close()

	buf := make([]byte, 16)
	_, err = port.Read(buf, 500*time.Millisecond)
	assert.Error(t, err)
}
