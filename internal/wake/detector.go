// Package wake decides when the assistant should start listening: a spoken
// wake word scored on live microphone audio, or a push-to-talk key.
package wake

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"nova/internal/audio"
)

var ErrDetectorUnavailable = errors.New("trigger detector unavailable")

type Kind string

const (
	KindWakeWord   Kind = "wakeword"
	KindPushToTalk Kind = "push_to_talk"
)

type Event struct {
	Kind Kind
	At   time.Time
}

// Stream is one open capture episode.
type Stream interface {
	Chunks() <-chan audio.Chunk
	Close() error
}

type Source interface {
	Open(ctx context.Context, f audio.Format) (Stream, error)
}

// MicSource adapts the portaudio microphone to Source. Dropped, when set,
// receives the number of chunks lost in each closed episode.
type MicSource struct {
	Mic     *audio.Mic
	Dropped func(n int)
}

func (m MicSource) Open(ctx context.Context, f audio.Format) (Stream, error) {
	ch, err := m.Mic.Open(ctx, f)
	if err != nil {
		return nil, err
	}
	return micStream{Channel: ch, dropped: m.Dropped}, nil
}

type micStream struct {
	*audio.Channel
	dropped func(n int)
}

func (s micStream) Close() error {
	err := s.Channel.Close()
	if s.dropped != nil {
		s.dropped(s.Channel.Dropped())
	}
	return err
}

// Keys is the out-of-band push-to-talk signal.
type Keys interface {
	// Pressed reports and consumes a pending press without blocking.
	Pressed() bool
	// Wait blocks until the next press.
	Wait(ctx context.Context) error
	// Clear forgets presses that happened before the episode started.
	Clear()
}

type Options struct {
	PushToTalk bool
	WakeWord   string
	Threshold  float64
	Debounce   time.Duration
	Format     audio.Format
}

// Detector produces one trigger per Await call. Both trigger kinds share
// lastTriggerAt, so no two events are ever closer than Debounce.
type Detector struct {
	opts   Options
	src    Source
	scorer Scorer
	keys   Keys
	now    func() time.Time

	lastTriggerAt time.Time
}

// NewDetector builds a detector. scorer may be nil in push-to-talk mode and
// keys may be nil in wake-word mode.
func NewDetector(opts Options, src Source, scorer Scorer, keys Keys) *Detector {
	return &Detector{
		opts:   opts,
		src:    src,
		scorer: scorer,
		keys:   keys,
		now:    time.Now,
	}
}

// Check reports whether a trigger can ever be observed with this setup.
func (d *Detector) Check() error {
	if d.opts.PushToTalk {
		if d.keys == nil {
			return fmt.Errorf("%w: no push-to-talk key source", ErrDetectorUnavailable)
		}
		return nil
	}
	if d.scorer == nil {
		return fmt.Errorf("%w: no wake-word scorer", ErrDetectorUnavailable)
	}
	if d.src == nil {
		return fmt.Errorf("%w: no audio source", ErrDetectorUnavailable)
	}
	return nil
}

// Await blocks until a trigger fires or ctx is done. In wake-word mode the
// capture stream is opened for the episode and always closed before
// returning.
func (d *Detector) Await(ctx context.Context) (Event, error) {
	if err := d.Check(); err != nil {
		return Event{}, err
	}
	if d.keys != nil {
		d.keys.Clear()
	}

	if d.opts.PushToTalk {
		return d.awaitKey(ctx)
	}
	return d.awaitWakeWord(ctx)
}

func (d *Detector) awaitKey(ctx context.Context) (Event, error) {
	for {
		if err := d.keys.Wait(ctx); err != nil {
			return Event{}, err
		}
		if now := d.now(); d.ready(now) {
			return d.fire(KindPushToTalk, now), nil
		}
		log.Debug("Push-to-talk ignored inside debounce window")
	}
}

func (d *Detector) awaitWakeWord(ctx context.Context) (Event, error) {
	if r, ok := d.scorer.(Resetter); ok {
		r.Reset()
	}

	stream, err := d.src.Open(ctx, d.opts.Format)
	if err != nil {
		return Event{}, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn("Failed to close capture stream", "err", err)
		}
	}()

	log.Debug("Listening for wake word", "wakeword", d.opts.WakeWord)

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return Event{}, fmt.Errorf("%w: capture stream ended", audio.ErrDeviceUnavailable)
			}
			ev, fired, err := d.step(ctx, chunk)
			if err != nil || fired {
				return ev, err
			}
		}
	}
}

// step evaluates one chunk. The wake word is checked before the key, so
// when both qualify in the same iteration the wake word wins.
func (d *Detector) step(ctx context.Context, chunk audio.Chunk) (Event, bool, error) {
	score, err := d.scorer.Score(ctx, chunk, d.opts.WakeWord)
	if err != nil {
		return Event{}, false, fmt.Errorf("score chunk: %w", err)
	}

	now := d.now()
	if score > d.opts.Threshold && d.ready(now) {
		log.Debug("Wake word scored", "score", score)
		return d.fire(KindWakeWord, now), true, nil
	}
	if d.keys != nil && d.keys.Pressed() && d.ready(now) {
		return d.fire(KindPushToTalk, now), true, nil
	}
	return Event{}, false, nil
}

func (d *Detector) ready(now time.Time) bool {
	return d.lastTriggerAt.IsZero() || now.Sub(d.lastTriggerAt) > d.opts.Debounce
}

func (d *Detector) fire(k Kind, now time.Time) Event {
	d.lastTriggerAt = now
	log.Info("Triggered", "kind", k)
	return Event{Kind: k, At: now}
}
