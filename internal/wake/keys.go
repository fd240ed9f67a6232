package wake

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"unicode/utf8"

	"github.com/eiannone/keyboard"
	"golang.design/x/hotkey"
)

// Latch collapses presses from any number of sources into one pending
// press.
type Latch struct {
	ch chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

func (l *Latch) Press() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

func (l *Latch) Pressed() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Latch) Clear() { l.Pressed() }

var hotkeys = map[string]hotkey.Key{
	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
	"SPACE": hotkey.KeySpace,
}

// HotkeySource presses the latch on a system-wide hotkey.
type HotkeySource struct {
	hk   *hotkey.Hotkey
	done chan struct{}
}

func ListenHotkey(name string, l *Latch) (*HotkeySource, error) {
	key, ok := hotkeys[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported hotkey %q", name)
	}

	hk := hotkey.New(nil, key)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("register hotkey %s: %w", name, err)
	}

	h := &HotkeySource{hk: hk, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-hk.Keydown():
				log.Debug("Hotkey pressed", "key", name)
				l.Press()
			case <-h.done:
				return
			}
		}
	}()

	log.Info("Hotkey registered", "key", name)
	return h, nil
}

func (h *HotkeySource) Close() error {
	close(h.done)
	return h.hk.Unregister()
}

var terminalKeys = map[string]keyboard.Key{
	"F1": keyboard.KeyF1, "F2": keyboard.KeyF2, "F3": keyboard.KeyF3, "F4": keyboard.KeyF4,
	"F5": keyboard.KeyF5, "F6": keyboard.KeyF6, "F7": keyboard.KeyF7, "F8": keyboard.KeyF8,
	"F9": keyboard.KeyF9, "F10": keyboard.KeyF10, "F11": keyboard.KeyF11, "F12": keyboard.KeyF12,
	"SPACE": keyboard.KeySpace, "ENTER": keyboard.KeyEnter,
}

// terminalMatcher returns a predicate for a key name: a named key from
// terminalKeys or a single printable character.
func terminalMatcher(name string) (func(keyboard.KeyEvent) bool, error) {
	name = strings.TrimSpace(name)
	if k, ok := terminalKeys[strings.ToUpper(name)]; ok {
		return func(ev keyboard.KeyEvent) bool { return ev.Key == k }, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(strings.ToLower(name))
		return func(ev keyboard.KeyEvent) bool { return ev.Key == 0 && ev.Rune == r }, nil
	}
	return nil, fmt.Errorf("unsupported terminal key %q", name)
}

// TerminalSource presses the latch when the key is typed in the
// controlling terminal.
type TerminalSource struct {
	done chan struct{}
}

func ListenTerminal(name string, l *Latch) (*TerminalSource, error) {
	match, err := terminalMatcher(name)
	if err != nil {
		return nil, err
	}

	events, err := keyboard.GetKeys(8)
	if err != nil {
		return nil, fmt.Errorf("open terminal keyboard: %w", err)
	}

	t := &TerminalSource{done: make(chan struct{})}
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Err != nil {
					log.Warn("Terminal key read failed", "err", ev.Err)
					continue
				}
				if match(ev) {
					l.Press()
				}
			case <-t.done:
				return
			}
		}
	}()

	log.Info("Terminal push-to-talk enabled", "key", name)
	return t, nil
}

func (t *TerminalSource) Close() error {
	close(t.done)
	return keyboard.Close()
}
