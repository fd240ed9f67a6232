package tts

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	texts []string
	err   error
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Synthesize(_ context.Context, text, out string) error {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("RIFF"), 0o644)
}

type fakeSayer struct {
	fakeEngine
	said []string
}

func (f *fakeSayer) Say(_ context.Context, text string) error {
	f.said = append(f.said, text)
	return f.err
}

func newTestSpeaker(t *testing.T, e Engine) (*Speaker, *[]string) {
	t.Helper()
	s := NewSpeaker(e, t.TempDir())
	var played []string
	s.play = func(_ context.Context, path string) error {
		played = append(played, path)
		return nil
	}
	return s, &played
}

func TestSpeakSynthesizesThenPlays(t *testing.T) {
	e := &fakeEngine{}
	s, played := newTestSpeaker(t, e)

	require.NoError(t, s.Speak(context.Background(), "Armed"))
	assert.Equal(t, []string{"Armed"}, e.texts)
	require.Len(t, *played, 1)
	assert.Equal(t, "reply.wav", filepath.Base((*played)[0]))
	assert.FileExists(t, (*played)[0])
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	e := &fakeEngine{}
	s, played := newTestSpeaker(t, e)

	require.NoError(t, s.Speak(context.Background(), "  "))
	assert.Empty(t, e.texts)
	assert.Empty(t, *played)
}

func TestSpeakWithoutEngine(t *testing.T) {
	s := NewSpeaker(nil, t.TempDir())

	err := s.Speak(context.Background(), "Sorry, something went wrong")
	assert.ErrorIs(t, err, ErrNoEngine)
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.Equal(t, "none", s.Engine())
}

func TestSynthesisFailure(t *testing.T) {
	e := &fakeEngine{err: errors.New("model missing")}
	s, played := newTestSpeaker(t, e)

	err := s.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.Empty(t, *played)
}

func TestPlaybackFailurePropagates(t *testing.T) {
	s := NewSpeaker(&fakeEngine{}, t.TempDir())
	boom := errors.New("no sink")
	s.play = func(context.Context, string) error { return boom }

	assert.ErrorIs(t, s.Speak(context.Background(), "hello"), boom)
}

func TestSayerSkipsArtifact(t *testing.T) {
	e := &fakeSayer{}
	s, played := newTestSpeaker(t, e)

	require.NoError(t, s.Speak(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, e.said)
	assert.Empty(t, e.texts)
	assert.Empty(t, *played)

	e.err = errors.New("device busy")
	assert.ErrorIs(t, s.Speak(context.Background(), "again"), ErrSynthesis)
}

func withPath(t *testing.T, found map[string]string) {
	t.Helper()
	prev := lookPath
	lookPath = func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPath = prev })
}

func TestPickEngineOrder(t *testing.T) {
	withPath(t, map[string]string{"tts": "/usr/bin/tts", "piper": "/usr/bin/piper"})
	e := PickEngine("auto", "en_US")
	require.NotNil(t, e)
	assert.Equal(t, "tts", e.Name())

	withPath(t, map[string]string{"piper": "/usr/bin/piper"})
	e = PickEngine("", "en_US")
	require.NotNil(t, e)
	assert.Equal(t, "piper", e.Name())
}

func TestPickEnginePreference(t *testing.T) {
	withPath(t, map[string]string{"tts": "/usr/bin/tts", "piper": "/usr/bin/piper"})
	e := PickEngine("Piper", "en_US")
	require.NotNil(t, e)
	assert.Equal(t, "piper", e.Name())
}

func TestPickEngineNothingInstalled(t *testing.T) {
	withPath(t, nil)
	assert.Nil(t, PickEngine("piper", "en_US"))
}

func TestEngineArgs(t *testing.T) {
	assert.Equal(t, []string{"--text", "hi", "--out_path", "/tmp/r.wav"}, coquiArgs("hi", "/tmp/r.wav"))
	assert.Equal(t, []string{"--text", "hi", "--output_file", "/tmp/r.wav"}, piperArgs("hi", "/tmp/r.wav"))
}

func TestCLIEngineRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "piper")
	script := "#!/bin/sh\nfor a; do last=$a; done\nprintf RIFF > \"$last\"\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	e := &cliEngine{name: "piper", bin: bin, args: piperArgs}
	out := filepath.Join(dir, "reply.wav")
	require.NoError(t, e.Synthesize(context.Background(), "hello", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(got))
}

func TestCLIEngineReportsStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "tts")
	script := "#!/bin/sh\necho 'voice model not found' >&2\nexit 3\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	e := &cliEngine{name: "tts", bin: bin, args: coquiArgs}
	err := e.Synthesize(context.Background(), "hello", filepath.Join(dir, "out.wav"))
	assert.ErrorContains(t, err, "voice model not found")
}

// blockingPlay parks the first playback until its context ends; later ones
// return immediately.
type blockingPlay struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
}

func (b *blockingPlay) play(ctx context.Context, _ string) error {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if !first {
		return nil
	}
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestTrySpeakIsBusyDuringReply(t *testing.T) {
	s := NewSpeaker(&fakeEngine{}, t.TempDir())
	bp := &blockingPlay{started: make(chan struct{})}
	s.play = bp.play

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Speak(ctx, "the reply") }()
	<-bp.started

	assert.ErrorIs(t, s.TrySpeak(context.Background(), "from the web"), ErrBusy)

	cancel()
	<-done
}

func TestSpeakInterruptsTrySpeak(t *testing.T) {
	s := NewSpeaker(&fakeEngine{}, t.TempDir())
	bp := &blockingPlay{started: make(chan struct{})}
	s.play = bp.play

	aside := make(chan error, 1)
	go func() { aside <- s.TrySpeak(context.Background(), "a long announcement") }()
	<-bp.started

	spoke := make(chan error, 1)
	go func() { spoke <- s.Speak(context.Background(), "the reply") }()

	select {
	case err := <-spoke:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("turn reply waited behind out-of-band speech")
	}
	assert.ErrorIs(t, <-aside, ErrBusy)
	assert.Equal(t, 2, bp.calls)
}

func TestTrySpeakWhenIdle(t *testing.T) {
	e := &fakeEngine{}
	s, played := newTestSpeaker(t, e)

	require.NoError(t, s.TrySpeak(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, e.texts)
	assert.Len(t, *played, 1)
	assert.ErrorIs(t, NewSpeaker(nil, t.TempDir()).TrySpeak(context.Background(), "x"), ErrNoEngine)
}
