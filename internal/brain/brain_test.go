package brain

import (
	"bytes"
	"context"
	"errors"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nova/internal/audio"
	"nova/internal/intents"
	"nova/internal/lastturn"
	"nova/internal/llm"
	"nova/internal/metrics"
	"nova/internal/tts"
	"nova/internal/wake"
	"nova/pkg/stt"
)

// scriptTrigger returns its results in order; when they run out it cancels
// the loop.
type scriptTrigger struct {
	results []error
	cancel  context.CancelFunc
	calls   int
}

func (s *scriptTrigger) Await(ctx context.Context) (wake.Event, error) {
	s.calls++
	if len(s.results) == 0 {
		s.cancel()
		<-ctx.Done()
		return wake.Event{}, ctx.Err()
	}
	err := s.results[0]
	s.results = s.results[1:]
	if err != nil {
		return wake.Event{}, err
	}
	return wake.Event{Kind: wake.KindWakeWord, At: time.Now()}, nil
}

func fires(n int) []error { return make([]error, n) }

// fileCapturer writes a real file per capture so Discard can be checked.
type fileCapturer struct {
	dir   string
	paths []string
	err   error
}

func (f *fileCapturer) Capture(context.Context) (audio.Utterance, error) {
	if f.err != nil {
		return audio.Utterance{}, f.err
	}
	p := filepath.Join(f.dir, "utt-"+string(rune('a'+len(f.paths)))+".wav")
	if err := os.WriteFile(p, []byte("RIFF"), 0o600); err != nil {
		return audio.Utterance{}, err
	}
	f.paths = append(f.paths, p)
	return audio.Utterance{Path: p, Format: audio.DefaultFormat(), Seconds: 4}, nil
}

type scriptTranscriber struct {
	texts []string
	errs  []error
	seen  []string
}

func (s *scriptTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	s.seen = append(s.seen, path)
	i := len(s.seen) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.texts) {
		return s.texts[i], nil
	}
	return "hello", nil
}

type echoRouter struct {
	err error
}

func (r *echoRouter) Route(_ context.Context, text string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "you said " + text, nil
}

type recSpeaker struct {
	mu    sync.Mutex
	said  []string
	fail  map[string]error
	stage func() Stage
	seen  []Stage
}

func (s *recSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	if s.stage != nil {
		s.seen = append(s.seen, s.stage())
	}
	return s.fail[text]
}

type countCue struct{ n int }

func (c *countCue) Cue(context.Context) error {
	c.n++
	return errors.New("no speaker")
}

type recDucker struct{ ducks, restores int }

func (d *recDucker) Duck(context.Context) error {
	d.ducks++
	return nil
}

func (d *recDucker) Restore(context.Context) error {
	d.restores++
	return nil
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Default()
	log.SetDefault(log.New(log.NewTextHandler(&buf, &log.HandlerOptions{Level: log.LevelDebug})))
	t.Cleanup(func() { log.SetDefault(prev) })
	return &buf
}

type harness struct {
	brain   *Brain
	trigger *scriptTrigger
	capture *fileCapturer
	stt     *scriptTranscriber
	router  *echoRouter
	speaker *recSpeaker
	store   *lastturn.Store
	ctx     context.Context
}

func newHarness(t *testing.T, triggers []error) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		trigger: &scriptTrigger{results: triggers, cancel: cancel},
		capture: &fileCapturer{dir: t.TempDir()},
		stt:     &scriptTranscriber{},
		router:  &echoRouter{},
		speaker: &recSpeaker{fail: map[string]error{}},
		store:   lastturn.New(),
		ctx:     ctx,
	}
	h.brain = New(Deps{
		Trigger:     h.trigger,
		Capturer:    h.capture,
		Transcriber: h.stt,
		Router:      h.router,
		Speaker:     h.speaker,
		Store:       h.store,
		Metrics:     metrics.New(),
	})
	h.brain.pause = time.Millisecond
	h.speaker.stage = h.brain.Stage
	return h
}

func TestRunOnceSuccess(t *testing.T) {
	h := newHarness(t, fires(1))

	turn, err := h.brain.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", turn.Transcript)
	assert.Equal(t, "you said hello", turn.Response)

	got, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, turn.Transcript, got.Transcript)
	assert.Equal(t, turn.Response, got.Response)

	assert.Equal(t, []string{"you said hello"}, h.speaker.said)
	assert.Equal(t, []Stage{StageSpeaking}, h.speaker.seen)
	assert.Equal(t, StageIdle, h.brain.Stage())

	require.Len(t, h.capture.paths, 1)
	assert.NoFileExists(t, h.capture.paths[0], "utterance must not outlive its turn")
}

func TestFailuresAreTaggedWithStage(t *testing.T) {
	cases := []struct {
		name  string
		setup func(h *harness)
		stage Stage
		is    error
	}{
		{"capture", func(h *harness) { h.capture.err = audio.ErrDeviceUnavailable }, StageCapturing, audio.ErrDeviceUnavailable},
		{"transcribe", func(h *harness) { h.stt.errs = []error{stt.ErrTranscription} }, StageTranscribing, stt.ErrTranscription},
		{"route", func(h *harness) { h.router.err = intents.ErrRouting }, StageRouting, intents.ErrRouting},
		{"speak", func(h *harness) { h.speaker.fail["you said hello"] = tts.ErrSynthesis }, StageSpeaking, tts.ErrSynthesis},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t, fires(1))
			c.setup(h)

			_, err := h.brain.RunOnce(h.ctx)
			var te *TurnError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, c.stage, te.Stage)
			assert.ErrorIs(t, err, c.is)

			_, ok := h.store.Snapshot()
			assert.False(t, ok, "failed turn must not touch the store")
			for _, p := range h.capture.paths {
				assert.NoFileExists(t, p)
			}
		})
	}
}

func TestRunSurvivesFailures(t *testing.T) {
	buf := captureLogs(t)
	h := newHarness(t, fires(3))
	h.stt.errs = []error{nil, stt.ErrTranscription, nil}
	h.stt.texts = []string{"first", "", "third"}

	require.NoError(t, h.brain.Run(h.ctx))

	assert.Equal(t, 4, h.trigger.calls)
	assert.Equal(t, []string{"you said first", Apology, "you said third"}, h.speaker.said)

	got, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "third", got.Transcript)
	assert.Contains(t, buf.String(), "stage=transcribing")
}

func TestFailedTurnLeavesPreviousSnapshot(t *testing.T) {
	h := newHarness(t, fires(2))
	h.router.err = nil

	_, err := h.brain.RunOnce(h.ctx)
	require.NoError(t, err)

	h.router.err = intents.ErrRouting
	_, err = h.brain.RunOnce(h.ctx)
	require.Error(t, err)

	got, _ := h.store.Snapshot()
	assert.Equal(t, "hello", got.Transcript)
	assert.Equal(t, "you said hello", got.Response)
}

func TestSynthesisUnavailable(t *testing.T) {
	buf := captureLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptTrigger{results: fires(2), cancel: cancel}
	b := New(Deps{
		Trigger:     trig,
		Capturer:    &fileCapturer{dir: t.TempDir()},
		Transcriber: &scriptTranscriber{},
		Router:      &echoRouter{},
		Speaker:     tts.NewSpeaker(nil, t.TempDir()),
		Store:       lastturn.New(),
	})

	require.NoError(t, b.Run(ctx))
	assert.Equal(t, 3, trig.calls, "loop kept awaiting triggers")

	logs := buf.String()
	assert.Equal(t, 2, strings.Count(logs, "Turn failed"))
	assert.Equal(t, 2, strings.Count(logs, "Apology failed"))
	assert.Contains(t, logs, "no TTS engine available")
}

func TestTriggerFailureApologisesAndRetries(t *testing.T) {
	buf := captureLogs(t)
	h := newHarness(t, []error{audio.ErrDeviceUnavailable, nil})

	require.NoError(t, h.brain.Run(h.ctx))
	assert.Equal(t, 3, h.trigger.calls)
	assert.Equal(t, []string{Apology, "you said hello"}, h.speaker.said)
	assert.Contains(t, buf.String(), "Trigger failed")

	got, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "hello", got.Transcript)
}

func TestDetectorUnavailableStopsLoop(t *testing.T) {
	h := newHarness(t, []error{wake.ErrDetectorUnavailable})

	err := h.brain.Run(h.ctx)
	assert.ErrorIs(t, err, wake.ErrDetectorUnavailable)
	assert.Equal(t, 1, h.trigger.calls)
	assert.Empty(t, h.speaker.said)
}

func TestEmptyTranscriptIsStillRouted(t *testing.T) {
	h := newHarness(t, fires(1))
	h.stt.texts = []string{""}

	turn, err := h.brain.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "", turn.Transcript)
	assert.Equal(t, "you said ", turn.Response)
	assert.Equal(t, []string{"you said "}, h.speaker.said)

	got, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "you said ", got.Response)
}

func TestCancelDuringTurnStopsCleanly(t *testing.T) {
	h := newHarness(t, fires(1))
	ctx, cancel := context.WithCancel(h.ctx)
	h.brain.deps.Capturer = cancelCapturer{cancel: cancel}

	require.NoError(t, h.brain.Run(ctx))
	assert.Empty(t, h.speaker.said)
}

type cancelCapturer struct{ cancel context.CancelFunc }

func (c cancelCapturer) Capture(ctx context.Context) (audio.Utterance, error) {
	c.cancel()
	return audio.Utterance{}, ctx.Err()
}

func TestCueAndDucking(t *testing.T) {
	h := newHarness(t, fires(2))
	cue := &countCue{}
	duck := &recDucker{}
	h.brain.deps.Cue = cue
	h.brain.deps.Ducker = duck
	h.stt.errs = []error{nil, stt.ErrTranscription}

	require.NoError(t, h.brain.Run(h.ctx))
	assert.Equal(t, 2, cue.n, "cue failures are not turn failures")
	assert.Equal(t, 2, duck.ducks)
	assert.Equal(t, 2, duck.restores)
	assert.Equal(t, "you said hello", h.speaker.said[0])
}

// Scenario: "describe kitchen camera" resolves to cam1 and the vision
// model's answer becomes the last turn.
type camDevices struct{ snapped []string }

func (c *camDevices) Snapshot(_ context.Context, id string) ([]byte, error) {
	c.snapped = append(c.snapped, id)
	return []byte{0xff, 0xd8}, nil
}

func (c *camDevices) Arm(context.Context, string) (bool, error) { return true, nil }

type camVision struct{}

func (camVision) Analyze(context.Context, string, []byte) (string, error) {
	return "A cat on the counter.", nil
}

type noChat struct{ t *testing.T }

func (n noChat) Chat(context.Context, string, string) (llm.Reply, error) {
	n.t.Fatal("chat must not be used for camera commands")
	return llm.Reply{}, nil
}

func TestDescribeKitchenScenario(t *testing.T) {
	h := newHarness(t, fires(1))
	h.stt.texts = []string{"describe kitchen camera"}
	devs := &camDevices{}
	h.brain.deps.Router = intents.NewRouter(map[string]string{"kitchen": "cam1"}, devs, camVision{}, noChat{t}, "")

	turn, err := h.brain.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cam1"}, devs.snapped)
	assert.Equal(t, h.capture.paths[0], h.stt.seen[0])

	got, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "describe kitchen camera", got.Transcript)
	assert.Equal(t, "A cat on the counter.", got.Response)
	assert.Equal(t, turn.Response, got.Response)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "awaiting_trigger", StageAwaitingTrigger.String())
	assert.Equal(t, "speaking", StageSpeaking.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
}
