package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// WriteWAV stores interleaved 16-bit samples as a little-endian PCM WAV.
func WriteWAV(path string, samples []int, f Format) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	enc := wav.NewEncoder(out, f.SampleRate, bitDepth, f.Channels, 1)
	buf := &goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: write samples: %w", ErrEncoding, err)
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: finalize header: %w", ErrEncoding, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return nil
}

// ReadWAV loads a PCM WAV file and returns its interleaved samples.
func ReadWAV(path string) ([]int, Format, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%w: %s is not a wav file", ErrPlayback, path)
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	if pb == nil || pb.Format == nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrPlayback, errors.New("empty wav"))
	}

	return pb.Data, Format{SampleRate: pb.Format.SampleRate, Channels: pb.Format.NumChannels}, nil
}
