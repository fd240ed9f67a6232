package audio

import (
	"context"
	log "log/slog"
	"os"
)

type Capturer interface {
	Record(ctx context.Context, seconds float64, f Format, dir string) (string, error)
}

// Utterance is the artifact of one capture. It belongs to the turn that
// created it and must be discarded when that turn ends.
type Utterance struct {
	Path    string
	Format  Format
	Seconds float64
}

func (u Utterance) Discard() {
	if u.Path == "" {
		return
	}
	if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to discard utterance", "path", u.Path, "err", err)
	}
}

// Recorder captures one fixed-length utterance per trigger. Capture
// errors are returned as-is; there is no retry.
type Recorder struct {
	mic     Capturer
	seconds float64
	format  Format
	dir     string
}

func NewRecorder(mic Capturer, seconds float64, f Format, dir string) *Recorder {
	return &Recorder{mic: mic, seconds: seconds, format: f, dir: dir}
}

func (r *Recorder) Capture(ctx context.Context) (Utterance, error) {
	path, err := r.mic.Record(ctx, r.seconds, r.format, r.dir)
	if err != nil {
		return Utterance{}, err
	}

	log.Info("Recorded", "path", path, "seconds", r.seconds)
	return Utterance{Path: path, Format: r.format, Seconds: r.seconds}, nil
}
