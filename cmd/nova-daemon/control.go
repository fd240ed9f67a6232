package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"

	"nova/internal/ipc"
	"nova/internal/lastturn"
)

type control struct {
	press      func()
	say        func(ctx context.Context, text string) error
	transcribe func(ctx context.Context, path string) (string, error)
	stage      func() string
	mode       string
	engine     string
	store      *lastturn.Store
}

func (c control) handle(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
	switch msg.Cmd {
	case ipc.CmdTrigger:
		c.press()
		return ipc.Ok(nil)

	case ipc.CmdSay:
		if err := c.say(ctx, msg.Text); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Ok(nil)

	case ipc.CmdTranscribe:
		if !filepath.IsAbs(msg.Text) {
			return ipc.Fail(errors.New("transcribe needs an absolute path"))
		}
		text, err := c.transcribe(ctx, msg.Text)
		if err != nil {
			return ipc.Fail(err)
		}
		log.Info("Transcribed file", "path", msg.Text, "text", text)
		return ipc.Ok(map[string]any{"text": text})

	case ipc.CmdStatus:
		data := map[string]any{
			"state":  c.stage(),
			"mode":   c.mode,
			"engine": c.engine,
		}
		if t, ok := c.store.Snapshot(); ok {
			data["last_transcript"] = t.Transcript
			data["last_response"] = t.Response
		}
		return ipc.Ok(data)

	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.Fail(fmt.Errorf("unknown command %q", msg.Cmd))
	}
}
