package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"nova/pkg/audioconv"
)

var ErrTranscription = errors.New("transcription failed")

const SampleRate = 16000

type Options struct {
	Language      string // "auto", "en", ...
	TranslateToEn bool
	Threads       int // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int           // 0 = greedy
	MaxTokens     uint          // 0 = no limit
	Duration      time.Duration // 0 = whole buffer
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string
}

// Transcriber wraps one loaded whisper model. The model is loaded once and
// shared; calls are serialised.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opts  Options
}

func NewTranscriber(modelPath string, opts Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	return &Transcriber{model: m, opts: opts}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// Transcribe decodes the artifact at path and returns the recognised text.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	pcm, err := audioconv.Load(ctx, path, audioconv.Options{TargetRate: SampleRate})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	res, err := t.TranscribePCM(ctx, pcm, t.opts)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// TranscribePCM runs whisper over mono float32 samples at 16 kHz.
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	if t == nil || t.model == nil {
		return Result{}, fmt.Errorf("%w: nil model", ErrTranscription)
	}
	if len(pcm16k) == 0 {
		return Result{}, fmt.Errorf("%w: no audio samples provided", ErrTranscription)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("%w: new context: %w", ErrTranscription, err)
	}
	if err := configure(wctx, opt); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: process: %w", ErrTranscription, err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: next segment: %w", ErrTranscription, err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		parts = append(parts, strings.TrimSpace(s.Text))
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

func configure(wctx whisper.Context, opt Options) error {
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.Duration > 0 {
		wctx.SetDuration(opt.Duration)
	}
	if opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(opt.MaxTokens)
	}
	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	return nil
}
