//go:build !espeak

package tts

// Built without the espeak tag there is no in-process engine.
func newEspeak(string) Engine { return nil }
