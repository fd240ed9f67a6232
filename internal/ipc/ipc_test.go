package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPath stays short: unix socket paths are limited to ~100 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "nova")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func echoHandler(_ context.Context, msg ControlMessage) Reply {
	switch msg.Cmd {
	case CmdSay:
		return Ok(map[string]any{"said": msg.Text})
	case CmdTrigger:
		return Ok(nil)
	}
	return Fail(errors.New("unknown command"))
}

func TestRoundTrip(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := StartServer(ctx, path, echoHandler)
	require.NoError(t, err)
	defer srv.Close()

	reply, err := SendCommand(ctx, path, ControlMessage{Cmd: CmdSay, Text: "hello"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "hello", reply.Data["said"])

	reply, err = SendCommand(ctx, path, ControlMessage{Cmd: "dance"})
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "unknown command", reply.Error)
}

func TestStaleSocketIsReplaced(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := StartServer(ctx, path, echoHandler)
	require.NoError(t, err)
	defer srv.Close()

	reply, err := SendCommand(ctx, path, ControlMessage{Cmd: CmdTrigger})
	require.NoError(t, err)
	assert.True(t, reply.OK)
}

func TestGarbageGetsErrorReply(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := StartServer(ctx, path, echoHandler)
	require.NoError(t, err)
	defer srv.Close()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _ := conn.Read(buf)
	assert.Contains(t, string(buf[:n]), `"ok":false`)
}

func TestCancelStopsServer(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())

	srv, err := StartServer(ctx, path, echoHandler)
	require.NoError(t, err)

	cancel()
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, srv.Close())
}

func TestSendWithoutServer(t *testing.T) {
	_, err := SendCommand(context.Background(), socketPath(t), ControlMessage{Cmd: CmdStatus})
	assert.Error(t, err)
}
