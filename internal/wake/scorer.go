package wake

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"

	"nova/internal/audio"
	"nova/pkg/audioconv"
	"nova/pkg/stt"
)

// Scorer rates how likely a chunk completes the wake word, in [0,1].
type Scorer interface {
	Score(ctx context.Context, chunk audio.Chunk, wakeword string) (float64, error)
}

// Resetter is implemented by scorers that keep state between chunks. The
// detector resets them at the start of every episode so one scorer can be
// reused for the whole process.
type Resetter interface {
	Reset()
}

type PCMTranscriber interface {
	TranscribePCM(ctx context.Context, pcm16k []float32, opt stt.Options) (stt.Result, error)
}

// TranscriptScorer spots the wake word by transcribing a sliding window of
// recent audio with whisper and comparing the text to the wake word.
type TranscriptScorer struct {
	stt    PCMTranscriber
	rate   int
	window int
	hop    int
	gate   float64
	opts   stt.Options

	buf   []float32
	since int
}

func NewTranscriptScorer(tr PCMTranscriber, sampleRate int, window, hop time.Duration) *TranscriptScorer {
	return &TranscriptScorer{
		stt:    tr,
		rate:   sampleRate,
		window: int(window.Seconds() * stt.SampleRate),
		hop:    int(hop.Seconds() * stt.SampleRate),
		gate:   0.01,
		opts:   stt.Options{Language: "en", MaxTokens: 8, Threads: 2},
	}
}

func (s *TranscriptScorer) Reset() {
	s.buf = s.buf[:0]
	s.since = 0
}

func (s *TranscriptScorer) Score(ctx context.Context, chunk audio.Chunk, wakeword string) (float64, error) {
	mono := audioconv.Resample(chunk.Mono(), s.rate, stt.SampleRate)

	s.buf = append(s.buf, mono...)
	if over := len(s.buf) - s.window; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
	s.since += len(mono)

	if len(s.buf) < s.window || s.since < s.hop {
		return 0, nil
	}
	s.since = 0

	if rms(s.buf) < s.gate {
		return 0, nil
	}

	res, err := s.stt.TranscribePCM(ctx, s.buf, s.opts)
	if err != nil {
		return 0, err
	}
	return Similarity(res.Text, wakeword), nil
}

// Similarity compares the wake word with every run of the same number of
// words in text and returns the best normalised edit-distance score.
func Similarity(text, wakeword string) float64 {
	want := normalize(wakeword)
	words := strings.Fields(normalize(text))
	if want == "" || len(words) == 0 {
		return 0
	}

	n := len(strings.Fields(want))
	if len(words) <= n {
		return ratio(strings.Join(words, " "), want)
	}

	best := 0.0
	for i := 0; i+n <= len(words); i++ {
		best = math.Max(best, ratio(strings.Join(words[i:i+n], " "), want))
	}
	return best
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '_', r == '-', unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func ratio(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func rms(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(x)))
}
