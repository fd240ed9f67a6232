// Package audioconv turns audio artifacts into mono float32 PCM at a chosen
// rate, the input shape whisper expects.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const opusRate = 48000

type Options struct {
	// TargetRate defaults to 16000.
	TargetRate int
	// MaxSamples truncates the output when > 0.
	MaxSamples int
}

// pcm is a decoded stream before downmix/resample.
type pcm struct {
	samples  []float32
	channels int
	rate     int
}

type decoder func(io.ReadSeeker) (pcm, error)

// Load decodes a wav, mp3, ogg/vorbis or ogg/opus file. Unknown extensions
// are sniffed by magic bytes.
func Load(ctx context.Context, path string, opt Options) ([]float32, error) {
	if opt.TargetRate <= 0 {
		opt.TargetRate = 16000
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoders, err := pick(f, path)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, dec := range decoders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		p, err := dec(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return finish(p, opt), nil
	}

	return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), errors.Join(errs...))
}

func pick(f *os.File, path string) ([]decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return []decoder{decodeWAV}, nil
	case ".mp3":
		return []decoder{decodeMP3}, nil
	case ".ogg", ".oga", ".opus":
		return []decoder{decodeVorbis, decodeOpus}, nil
	}

	magic, _ := bufio.NewReader(f).Peek(4)
	switch string(magic) {
	case "RIFF":
		return []decoder{decodeWAV}, nil
	case "OggS":
		return []decoder{decodeVorbis, decodeOpus}, nil
	}
	return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg)", path)
}

func finish(p pcm, opt Options) []float32 {
	x := Downmix(p.samples, p.channels)
	x = Resample(x, p.rate, opt.TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.New("invalid wav")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return pcm{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	p := pcm{samples: IntsToFloat32(buf.Data, depth), channels: 1, rate: 44100}
	if buf.Format != nil {
		p.channels = max(buf.Format.NumChannels, 1)
		if buf.Format.SampleRate > 0 {
			p.rate = buf.Format.SampleRate
		}
	}
	return p, nil
}

func decodeMP3(r io.ReadSeeker) (pcm, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return pcm{}, err
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, ints); err != nil {
		return pcm{}, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always emits interleaved stereo.
	return pcm{samples: Int16ToFloat32(ints), channels: 2, rate: rate}, nil
}

func decodeVorbis(r io.ReadSeeker) (pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return pcm{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return pcm{}, errors.New("invalid ogg/vorbis stream")
	}
	return pcm{samples: samples, channels: format.Channels, rate: format.SampleRate}, nil
}

func decodeOpus(r io.ReadSeeker) (pcm, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)
	buf := make([]int16, opusRate*ch/2)

	var out []float32
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return pcm{}, err
		}
	}
	if len(out) == 0 {
		return pcm{}, errors.New("empty opus stream")
	}
	return pcm{samples: out, channels: ch, rate: opusRate}, nil
}

func IntsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return out
}

func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Downmix averages interleaved frames into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between rates with linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
