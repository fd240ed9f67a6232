package tts

import (
	"bytes"
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"strings"
)

// Overridden in tests.
var lookPath = exec.LookPath

// cliEngine shells out to a synthesizer binary that writes a wav file.
type cliEngine struct {
	name string
	bin  string
	args func(text, out string) []string
}

func (e *cliEngine) Name() string { return e.name }

func (e *cliEngine) Synthesize(ctx context.Context, text, out string) error {
	cmd := exec.CommandContext(ctx, e.bin, e.args(text, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", e.name, err, msg)
		}
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

func coquiArgs(text, out string) []string {
	return []string{"--text", text, "--out_path", out}
}

func piperArgs(text, out string) []string {
	return []string{"--text", text, "--output_file", out}
}

var cliEngines = []struct {
	name string
	args func(text, out string) []string
}{
	{"tts", coquiArgs},
	{"piper", piperArgs},
}

// PickEngine picks the engine once at startup. pref is "auto" or an engine
// name; auto takes the first of tts, piper and espeak that is installed.
// It returns nil when nothing usable is found.
func PickEngine(pref, voice string) Engine {
	pref = strings.ToLower(strings.TrimSpace(pref))
	if pref == "" {
		pref = "auto"
	}

	for _, c := range cliEngines {
		if pref != "auto" && pref != c.name {
			continue
		}
		bin, err := lookPath(c.name)
		if err != nil {
			log.Debug("TTS engine not found", "engine", c.name)
			continue
		}
		log.Info("TTS engine selected", "engine", c.name, "bin", bin)
		return &cliEngine{name: c.name, bin: bin, args: c.args}
	}

	if pref == "auto" || pref == "espeak" {
		if e := newEspeak(voice); e != nil {
			log.Info("TTS engine selected", "engine", e.Name(), "voice", voice)
			return e
		}
	}

	log.Warn("No TTS engine available", "preference", pref)
	return nil
}
