// Package notify plays the short cue that tells the user capture has
// started.
package notify

import (
	"context"
	"math"
	"time"

	"github.com/faiface/beep"

	"nova/internal/audio"
)

var toneFormat = beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}

// Chime plays a sound file when one is configured and a short sine tone
// otherwise.
type Chime struct {
	path   string
	play   func(ctx context.Context, path string) error
	stream func(ctx context.Context, s beep.Streamer, f beep.Format) error
}

func NewChime(path string) *Chime {
	return &Chime{
		path:   path,
		play:   audio.Play,
		stream: audio.PlayStream,
	}
}

func (c *Chime) Cue(ctx context.Context) error {
	if c.path != "" {
		return c.play(ctx, c.path)
	}
	return c.stream(ctx, Tone(880, 120*time.Millisecond, toneFormat.SampleRate), toneFormat)
}

// Tone is a finite sine wave with a linear fade out so it ends without a
// click.
func Tone(freq float64, d time.Duration, sr beep.SampleRate) beep.Streamer {
	total := sr.N(d)
	pos := 0
	step := 2 * math.Pi * freq / float64(sr)

	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := min(len(samples), total-pos)
		for i := 0; i < n; i++ {
			gain := 0.3 * float64(total-pos-i) / float64(total)
			v := gain * math.Sin(step*float64(pos+i))
			samples[i][0], samples[i][1] = v, v
		}
		pos += n
		return n, true
	})
}
