package audio

import (
	"errors"
	"time"
)

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrEncoding          = errors.New("audio encoding failed")
	ErrPlayback          = errors.New("audio playback failed")
)

// Format describes interleaved PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1}
}

// Frames returns the number of frames covering d seconds.
func (f Format) Frames(seconds float64) int {
	return int(seconds*float64(f.SampleRate) + 0.5)
}

// Chunk is one buffer delivered by a capture stream. Samples are
// interleaved float32 in [-1, 1]. The slice is owned by the receiver.
type Chunk struct {
	Samples  []float32
	Channels int
	At       time.Time
}

// Mono returns the chunk averaged down to one channel.
func (c Chunk) Mono() []float32 {
	if c.Channels <= 1 {
		return c.Samples
	}
	n := len(c.Samples) / c.Channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum / float32(c.Channels)
	}
	return out
}
