package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	// 80ms at 16 kHz.
	framesPerChunk = 1280
	// Bounded so a stalled consumer cannot grow memory without limit.
	chunkQueueSize = 256
	recordFrames   = 1024
)

type stream interface {
	Start() error
	Stop() error
	Close() error
}

type inputStream interface {
	stream
	Read() error
}

// Overridden in tests; the defaults talk to the default portaudio device.
var (
	openCallback = func(f Format, frames int, cb func([]float32)) (stream, error) {
		return portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), frames, cb)
	}
	openBlocking = func(f Format, buf []int16) (inputStream, error) {
		return portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), len(buf)/f.Channels, buf)
	}
)

// Mic owns the portaudio host API for the process lifetime.
type Mic struct{}

func NewMic() *Mic { return &Mic{} }

func (m *Mic) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return nil
}

func (m *Mic) Close() {
	portaudio.Terminate()
}

// Open starts a live capture stream. Chunks arrive at hardware rate until
// the returned Channel is closed; the caller must always close it.
func (m *Mic) Open(_ context.Context, f Format) (*Channel, error) {
	c := &Channel{
		chunks:   make(chan Chunk, chunkQueueSize),
		channels: f.Channels,
	}

	s, err := openCallback(f, framesPerChunk, c.push)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %w", ErrDeviceUnavailable, err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: start stream: %w", ErrDeviceUnavailable, err)
	}
	c.stream = s

	log.Debug("Capture stream opened", "rate", f.SampleRate, "channels", f.Channels)
	return c, nil
}

// Record captures exactly seconds of audio and writes it to a 16-bit PCM
// WAV file in dir. It blocks for the full duration; there is no silence
// cut-off.
func (m *Mic) Record(ctx context.Context, seconds float64, f Format, dir string) (string, error) {
	want := f.Frames(seconds) * f.Channels
	buf := make([]int16, recordFrames*f.Channels)

	s, err := openBlocking(f, buf)
	if err != nil {
		return "", fmt.Errorf("%w: open stream: %w", ErrDeviceUnavailable, err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		return "", fmt.Errorf("%w: start stream: %w", ErrDeviceUnavailable, err)
	}
	defer s.Stop()

	out := make([]int, 0, want)
	for len(out) < want {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.Read(); err != nil {
			return "", fmt.Errorf("%w: read: %w", ErrDeviceUnavailable, err)
		}
		n := min(len(buf), want-len(out))
		for _, v := range buf[:n] {
			out = append(out, int(v))
		}
	}

	tmp, err := os.CreateTemp(dir, "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	path := tmp.Name()
	_ = tmp.Close()

	if err := WriteWAV(path, out, f); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	return path, nil
}

// Channel is one live capture session.
type Channel struct {
	stream   stream
	chunks   chan Chunk
	channels int

	mu      sync.Mutex
	closed  bool
	dropped int
	once    sync.Once
}

// Chunks yields captured audio. The channel is closed by Close.
func (c *Channel) Chunks() <-chan Chunk { return c.chunks }

// Dropped reports how many chunks were lost because the queue was full.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// push runs on the driver thread.
func (c *Channel) push(in []float32) {
	samples := make([]float32, len(in))
	copy(samples, in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.chunks <- Chunk{Samples: samples, Channels: c.channels, At: time.Now()}:
	default:
		c.dropped++
	}
}

// Close stops the hardware stream and releases it. Pending chunks are
// drained and the Chunks channel is closed. Only the first call has effect.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		dropped := c.dropped
		c.mu.Unlock()

		if c.stream != nil {
			if stopErr := c.stream.Stop(); stopErr != nil {
				err = stopErr
			}
			if closeErr := c.stream.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}

		close(c.chunks)
		for range c.chunks {
		}

		if dropped > 0 {
			log.Warn("Capture consumer fell behind", "dropped_chunks", dropped)
		}
		log.Debug("Capture stream closed")
	})
	return err
}
