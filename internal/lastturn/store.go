// Package lastturn holds the transcript and response of the most recent
// successful turn.
package lastturn

import (
	"sync"
	"sync/atomic"
	"time"
)

type Turn struct {
	Transcript string    `json:"transcript"`
	Response   string    `json:"response"`
	At         time.Time `json:"at"`
}

// Store is written by the turn loop and read by any number of readers. A
// turn is published as one pointer swap, so a reader never pairs the
// transcript of one turn with the response of another.
type Store struct {
	cur atomic.Pointer[Turn]

	mu   sync.Mutex
	subs map[chan Turn]struct{}
}

func New() *Store {
	return &Store{subs: make(map[chan Turn]struct{})}
}

func (s *Store) Set(transcript, response string) Turn {
	t := &Turn{Transcript: transcript, Response: response, At: time.Now()}
	s.cur.Store(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- *t:
		default:
			// slow reader; it will catch up with Snapshot
		}
	}
	return *t
}

// Snapshot returns the last turn; ok is false before the first one.
func (s *Store) Snapshot() (Turn, bool) {
	t := s.cur.Load()
	if t == nil {
		return Turn{}, false
	}
	return *t, true
}

// Subscribe returns a channel receiving every turn published after the
// call, and a func that cancels the subscription and closes the channel.
func (s *Store) Subscribe(buf int) (<-chan Turn, func()) {
	ch := make(chan Turn, max(buf, 1))

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}
