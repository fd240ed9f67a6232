// Package brain runs the assistant's turn loop: wait for a trigger, record,
// transcribe, route and speak, then wait again.
package brain

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync/atomic"
	"time"

	"nova/internal/audio"
	"nova/internal/lastturn"
	"nova/internal/metrics"
	"nova/internal/wake"
)

// Apology is spoken after any failed turn.
const Apology = "Sorry, something went wrong"

type Trigger interface {
	Await(ctx context.Context) (wake.Event, error)
}

type Capturer interface {
	Capture(ctx context.Context) (audio.Utterance, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Router interface {
	Route(ctx context.Context, text string) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Cue signals the user that capture is about to start.
type Cue interface {
	Cue(ctx context.Context) error
}

// Ducker lowers other audio for the length of a turn.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Deps are the collaborators of one Brain. Store, Cue, Ducker and Metrics
// are optional.
type Deps struct {
	Trigger     Trigger
	Capturer    Capturer
	Transcriber Transcriber
	Router      Router
	Speaker     Speaker
	Store       *lastturn.Store
	Cue         Cue
	Ducker      Ducker
	Metrics     *metrics.Metrics
}

type Brain struct {
	deps  Deps
	stage atomic.Int32

	// pause after a trigger failure so a missing device does not spin
	pause time.Duration
}

func New(deps Deps) *Brain {
	return &Brain{deps: deps, pause: time.Second}
}

// Stage is safe to call from any goroutine.
func (b *Brain) Stage() Stage {
	return Stage(b.stage.Load())
}

func (b *Brain) enter(s Stage) {
	b.stage.Store(int32(s))
}

// Run repeats turns until ctx is done. A failed turn is logged, apologised
// for and followed by the next one; trigger failures also pause before the
// next attempt. Only an unusable trigger detector ends the loop with an
// error.
func (b *Brain) Run(ctx context.Context) error {
	log.Info("Turn loop started")
	defer b.enter(StageIdle)

	for {
		_, err := b.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info("Turn loop stopped")
			return nil
		}
		if err == nil {
			continue
		}

		var te *TurnError
		if !errors.As(err, &te) {
			te = &TurnError{Stage: StageIdle, Err: err}
		}

		switch {
		case errors.Is(err, wake.ErrDetectorUnavailable):
			return err

		case te.Stage == StageAwaitingTrigger:
			log.Error("Trigger failed", "err", te.Err)
			b.apologise(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.pause):
			}

		default:
			log.Error("Turn failed", "stage", te.Stage.String(), "err", te.Err)
			b.apologise(ctx)
		}
	}
}

func (b *Brain) apologise(ctx context.Context) {
	if b.deps.Speaker == nil {
		return
	}
	if err := b.deps.Speaker.Speak(ctx, Apology); err != nil {
		log.Warn("Apology failed", "err", err)
	}
}

// RunOnce runs a single turn. On success the turn is published to the
// store and returned; on failure the store is left untouched and the error
// is a *TurnError.
func (b *Brain) RunOnce(ctx context.Context) (lastturn.Turn, error) {
	defer b.enter(StageIdle)

	var ev wake.Event
	err := b.step(ctx, StageAwaitingTrigger, func() (err error) {
		ev, err = b.deps.Trigger.Await(ctx)
		return err
	})
	if err != nil {
		return lastturn.Turn{}, err
	}
	b.deps.Metrics.Trigger(string(ev.Kind))

	b.cue(ctx)
	if b.deps.Ducker != nil {
		if err := b.deps.Ducker.Duck(ctx); err != nil {
			log.Warn("Ducking failed", "err", err)
		}
		defer func() {
			if err := b.deps.Ducker.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Restoring volume failed", "err", err)
			}
		}()
	}

	var utt audio.Utterance
	err = b.step(ctx, StageCapturing, func() (err error) {
		utt, err = b.deps.Capturer.Capture(ctx)
		return err
	})
	if err != nil {
		return lastturn.Turn{}, b.fail(err)
	}
	defer utt.Discard()

	var transcript string
	err = b.step(ctx, StageTranscribing, func() (err error) {
		transcript, err = b.deps.Transcriber.Transcribe(ctx, utt.Path)
		return err
	})
	if err != nil {
		return lastturn.Turn{}, b.fail(err)
	}
	log.Info("Transcribed", "text", transcript)

	var response string
	err = b.step(ctx, StageRouting, func() (err error) {
		response, err = b.deps.Router.Route(ctx, transcript)
		return err
	})
	if err != nil {
		return lastturn.Turn{}, b.fail(err)
	}
	log.Info("Responding", "text", response)

	err = b.step(ctx, StageSpeaking, func() error {
		return b.deps.Speaker.Speak(ctx, response)
	})
	if err != nil {
		return lastturn.Turn{}, b.fail(err)
	}

	turn := lastturn.Turn{Transcript: transcript, Response: response, At: time.Now()}
	if b.deps.Store != nil {
		turn = b.deps.Store.Set(transcript, response)
	}
	b.deps.Metrics.TurnOK()
	return turn, nil
}

// step runs fn as stage s and tags its error with the stage.
func (b *Brain) step(ctx context.Context, s Stage, fn func() error) error {
	b.enter(s)
	start := time.Now()
	err := fn()
	b.deps.Metrics.Stage(s.String(), time.Since(start))

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &TurnError{Stage: s, Err: err}
}

func (b *Brain) fail(err error) error {
	var te *TurnError
	if errors.As(err, &te) {
		b.deps.Metrics.TurnFailed(te.Stage.String())
	}
	return err
}

func (b *Brain) cue(ctx context.Context) {
	if b.deps.Cue == nil {
		return
	}
	if err := b.deps.Cue.Cue(ctx); err != nil {
		log.Warn("Cue failed", "err", err)
	}
}
