// Package tts turns reply text into speech with whichever engine the host
// provides.
package tts

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"nova/internal/audio"
)

var (
	ErrSynthesis = errors.New("speech synthesis failed")
	ErrNoEngine  = fmt.Errorf("%w: no TTS engine available", ErrSynthesis)
	// ErrBusy is returned by TrySpeak when a reply is playing or waiting
	// to play.
	ErrBusy = errors.New("speaker busy")
)

// Engine renders text into an audio artifact at out.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, out string) error
}

// Sayer is implemented by engines that play directly to the sound card
// without an intermediate artifact.
type Sayer interface {
	Say(ctx context.Context, text string) error
}

// Speaker serialises speech. The turn loop speaks with Speak and always
// gets the speaker: out-of-band speech started with TrySpeak is cancelled
// to make room for it, and TrySpeak never waits.
type Speaker struct {
	mu     sync.Mutex
	engine Engine
	out    string
	play   func(ctx context.Context, path string) error

	// amu guards aside and interrupted and orders them against pending
	amu         sync.Mutex
	aside       context.CancelFunc
	interrupted bool
	pending     atomic.Int32
}

// NewSpeaker writes replies to reply.wav in dir. A nil engine is allowed:
// every Speak then fails with ErrNoEngine.
func NewSpeaker(engine Engine, dir string) *Speaker {
	return &Speaker{
		engine: engine,
		out:    filepath.Join(dir, "reply.wav"),
		play:   audio.Play,
	}
}

func (s *Speaker) Engine() string {
	if s.engine == nil {
		return "none"
	}
	return s.engine.Name()
}

// Speak says text on behalf of the turn loop, interrupting any TrySpeak
// in progress.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s.engine == nil {
		return ErrNoEngine
	}

	s.pending.Add(1)
	s.amu.Lock()
	if s.aside != nil {
		log.Debug("Interrupting out-of-band speech")
		s.interrupted = true
		s.aside()
	}
	s.amu.Unlock()

	s.mu.Lock()
	s.pending.Add(-1)
	defer s.mu.Unlock()

	return s.speak(ctx, text)
}

// TrySpeak says text only if nothing else is speaking or about to speak.
// It returns ErrBusy instead of waiting, and is cut short when the turn
// loop needs the speaker.
func (s *Speaker) TrySpeak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s.engine == nil {
		return ErrNoEngine
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.amu.Lock()
	if s.pending.Load() > 0 || !s.mu.TryLock() {
		s.amu.Unlock()
		return ErrBusy
	}
	s.aside = cancel
	s.interrupted = false
	s.amu.Unlock()
	defer s.mu.Unlock()

	err := s.speak(ctx, text)

	s.amu.Lock()
	interrupted := s.interrupted
	s.aside = nil
	s.amu.Unlock()

	if err != nil && interrupted {
		return fmt.Errorf("%w: interrupted by a reply", ErrBusy)
	}
	return err
}

func (s *Speaker) speak(ctx context.Context, text string) error {
	if sayer, ok := s.engine.(Sayer); ok {
		if err := sayer.Say(ctx, text); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSynthesis, s.engine.Name(), err)
		}
		return nil
	}

	if err := s.engine.Synthesize(ctx, text, s.out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSynthesis, s.engine.Name(), err)
	}
	log.Debug("Synthesized", "engine", s.engine.Name(), "path", s.out)

	return s.play(ctx, s.out)
}
