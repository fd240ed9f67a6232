package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var volumeRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type volumeStep struct {
	id       int
	from, to int
}

// pactl runs a pactl subcommand and returns its stdout.
type pactl func(ctx context.Context, args ...string) ([]byte, error)

func execPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Ducker lowers every other application's playback while a turn is in
// progress and restores it afterwards. Streams whose application.name is
// in keep are left alone.
type Ducker struct {
	mu       sync.Mutex
	ducked   bool
	keep     []string
	factor   float64
	floor    int
	fade     time.Duration
	original map[int]int
	run      pactl
}

func NewDucker(keep []string, factor float64, floor int, fade time.Duration) *Ducker {
	return &Ducker{
		keep:     append([]string(nil), keep...),
		factor:   factor,
		floor:    clampVolume(floor),
		fade:     fade,
		original: make(map[int]int),
		run:      execPactl,
	}
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int, len(inputs))
	steps := make([]volumeStep, 0, len(inputs))
	for _, in := range inputs {
		to := int(math.Round(float64(in.Volume) * d.factor))
		to = clampVolume(max(to, d.floor))
		d.original[in.ID] = in.Volume
		steps = append(steps, volumeStep{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.ramp(ctx, steps); err != nil {
		return err
	}
	d.ducked = true
	return nil
}

// Restore brings ducked streams back to their original volume. Streams
// that appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ducked {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var steps []volumeStep
	for _, in := range inputs {
		orig, ok := d.original[in.ID]
		if !ok {
			continue
		}
		steps = append(steps, volumeStep{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.ramp(ctx, steps); err != nil {
		return err
	}
	d.original = make(map[int]int)
	d.ducked = false
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	var foreign []sinkInput
	for _, in := range parseSinkInputs(string(out)) {
		if !d.kept(in.AppName) {
			foreign = append(foreign, in)
		}
	}
	return foreign, nil
}

func (d *Ducker) kept(app string) bool {
	for _, name := range d.keep {
		if app == name {
			return true
		}
	}
	return false
}

func (d *Ducker) ramp(ctx context.Context, steps []volumeStep) error {
	if len(steps) == 0 {
		return nil
	}

	const tick = 10 * time.Millisecond
	n := max(int(d.fade/tick), 1)
	pause := d.fade / time.Duration(n)

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(n)
		for _, s := range steps {
			v := s.from + int(math.Round(float64(s.to-s.from)*frac))
			if err := d.setVolume(ctx, s.id, v); err != nil {
				return err
			}
		}

		if i < n && pause > 0 {
			time.Sleep(pause)
		}
	}
	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	arg := strconv.Itoa(clampVolume(percent)) + "%"
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), arg); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	var res []sinkInput

	blocks := strings.Split(text, "Sink Input #")
	for _, block := range blocks[1:] {
		head, body, _ := strings.Cut(block, "\n")
		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := volumeRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				in.AppName = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "application.name =")), `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}

	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}
