package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

// One speaker for the whole process.
var playMu sync.Mutex

// Play decodes a wav, mp3 or ogg/vorbis artifact and blocks until it has
// been played or ctx is cancelled.
func Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}

	streamer, format, err := decode(f, path)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: decode %s: %w", ErrPlayback, path, err)
	}
	defer streamer.Close()

	return PlayStream(ctx, streamer, format)
}

// PlayStream plays s to the end, or until ctx is cancelled.
func PlayStream(ctx context.Context, s beep.Streamer, format beep.Format) error {
	playMu.Lock()
	defer playMu.Unlock()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("%w: init speaker: %w", ErrPlayback, err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func decode(f *os.File, path string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return wav.Decode(f)
	case ".mp3":
		return mp3.Decode(f)
	case ".ogg", ".oga":
		return vorbis.Decode(f)
	}

	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, beep.Format{}, err
	}
	switch string(magic) {
	case "RIFF":
		return wav.Decode(f)
	case "OggS":
		return vorbis.Decode(f)
	}
	return mp3.Decode(f)
}
