// Package ipc is the daemon's local control socket: one JSON request and
// one JSON reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/nova.sock"

const (
	CmdTrigger = "trigger"
	CmdSay     = "say"
	CmdStatus  = "status"
	// Text carries an absolute path to a wav, mp3, ogg or opus file.
	CmdTranscribe = "transcribe"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Reply struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func Ok(data map[string]any) Reply { return Reply{OK: true, Data: data} }

func Fail(err error) Reply { return Reply{Error: err.Error()} }

type Handler func(ctx context.Context, msg ControlMessage) Reply

type Server struct {
	ln   net.Listener
	path string
	wg   sync.WaitGroup
	once sync.Once
}

// StartServer listens on path, replacing a stale socket file, and serves
// until ctx is done or Close is called.
func StartServer(ctx context.Context, path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("Control socket accept failed", "err", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				handleConn(ctx, conn, handler)
			}()
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	log.Info("Control socket listening", "path", path)
	return s, nil
}

func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ln.Close()
		_ = os.Remove(s.path)
	})
	return err
}

// Wait blocks until the accept loop and every open connection are done.
func (s *Server) Wait() { s.wg.Wait() }

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Fail(fmt.Errorf("decode: %w", err)))
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd)
	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Control reply failed", "err", err)
	}
}

// SendCommand sends one message and waits for the reply.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
