package proxy

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDirect(t *testing.T) {
	c, err := NewClient("", 0)
	require.NoError(t, err)
	assert.Nil(t, c.Transport)
	assert.Equal(t, DefaultTimeout, c.Timeout)
}

func TestNewClientSocks(t *testing.T) {
	c, err := NewClient("127.0.0.1:1080", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, tr.DialContext)
}

func TestSocksDialGoesThroughProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	greeted := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 3)
		n, _ := conn.Read(buf)
		greeted <- buf[:n]
	}()

	c, err := NewSocksClient(ln.Addr().String(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = c.Transport.(*http.Transport).DialContext(ctx, "tcp", "example.invalid:80")

	select {
	case got := <-greeted:
		// SOCKS5 greeting: version 5
		require.NotEmpty(t, got)
		assert.Equal(t, byte(5), got[0])
	case <-time.After(time.Second):
		t.Fatal("proxy was never contacted")
	}
}
