// Package intents maps a transcript to an action and its spoken reply.
package intents

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"

	"nova/internal/llm"
)

// ErrRouting wraps every chat, vision and device failure.
var ErrRouting = errors.New("routing failed")

const (
	ToolSnapshot = "scrypted.snapshot"
	ToolArm      = "scrypted.arm"

	defaultSnapshotPrompt = "Describe the snapshot"
)

var (
	describeRe = regexp.MustCompile(`describe (.+?) camera`)
	armRe      = regexp.MustCompile(`arm (.+?) camera`)
)

type Devices interface {
	Snapshot(ctx context.Context, id string) ([]byte, error)
	Arm(ctx context.Context, id string) (bool, error)
}

type Vision interface {
	Analyze(ctx context.Context, prompt string, image []byte) (string, error)
}

type Chatter interface {
	Chat(ctx context.Context, prompt, system string) (llm.Reply, error)
}

type Router struct {
	rooms  map[string]string
	dev    Devices
	vision Vision
	chat   Chatter
	system string
}

// NewRouter takes rooms keyed by lowercase room name.
func NewRouter(rooms map[string]string, dev Devices, vision Vision, chat Chatter, system string) *Router {
	return &Router{rooms: rooms, dev: dev, vision: vision, chat: chat, system: system}
}

// Route handles the camera commands and hands everything else to the chat
// model. Unknown rooms are answered without touching the network.
func (r *Router) Route(ctx context.Context, text string) (string, error) {
	low := strings.ToLower(text)

	if m := describeRe.FindStringSubmatch(low); m != nil {
		room := strings.TrimSpace(m[1])
		id, ok := r.resolve(room)
		if !ok {
			return unknownDevice(room), nil
		}
		log.Info("Describing camera", "room", room, "device", id)
		return r.describe(ctx, id, fmt.Sprintf("Describe the %s camera", room))
	}

	if m := armRe.FindStringSubmatch(low); m != nil {
		room := strings.TrimSpace(m[1])
		id, ok := r.resolve(room)
		if !ok {
			return unknownDevice(room), nil
		}
		log.Info("Arming camera", "room", room, "device", id)
		return r.arm(ctx, id)
	}

	reply, err := r.chat.Chat(ctx, text, r.system)
	if err != nil {
		return "", fmt.Errorf("%w: chat: %w", ErrRouting, err)
	}
	if reply.Tool != nil {
		return r.HandleTool(ctx, *reply.Tool)
	}
	return reply.Text, nil
}

// HandleTool runs a tool call emitted by the chat model.
func (r *Router) HandleTool(ctx context.Context, call llm.ToolCall) (string, error) {
	log.Debug("Tool call", "tool", call.Tool, "args", call.Args)

	switch call.Tool {
	case ToolSnapshot:
		id := stringArg(call.Args, "device_id")
		if id == "" {
			return "device_id missing", nil
		}
		prompt := stringArg(call.Args, "prompt")
		if prompt == "" {
			prompt = defaultSnapshotPrompt
		}
		return r.describe(ctx, id, prompt)

	case ToolArm:
		id := stringArg(call.Args, "device_id")
		if id == "" {
			return "device_id missing", nil
		}
		return r.arm(ctx, id)
	}
	return "Unknown tool", nil
}

func (r *Router) resolve(room string) (string, bool) {
	id, ok := r.rooms[strings.ToLower(room)]
	return id, ok && id != ""
}

func (r *Router) describe(ctx context.Context, id, prompt string) (string, error) {
	img, err := r.dev.Snapshot(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouting, err)
	}
	text, err := r.vision.Analyze(ctx, prompt, img)
	if err != nil {
		return "", fmt.Errorf("%w: analyze: %w", ErrRouting, err)
	}
	return text, nil
}

func (r *Router) arm(ctx context.Context, id string) (string, error) {
	ok, err := r.dev.Arm(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouting, err)
	}
	if !ok {
		return "Unable to arm", nil
	}
	return "Armed", nil
}

func unknownDevice(room string) string {
	return "Unknown device for " + room
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
