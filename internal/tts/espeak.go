//go:build espeak

package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
espeak_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0);
}

int
espeak_say(const char *text, const char *lang)
{
	if (!text || !lang)
	{ return -1; }

	espeak_VOICE specs = { .languages = lang };
	if (espeak_SetVoiceByProperties(&specs) != EE_OK)
	{ return -2; }

	if (espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL) != EE_OK)
	{ return -3; }
	espeak_Synchronize();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"unsafe"
)

type espeakEngine struct {
	lang string
}

// newEspeak returns nil when the library cannot start an audio device.
func newEspeak(voice string) Engine {
	if rc := C.espeak_init(); rc < 0 {
		return nil
	}
	return &espeakEngine{lang: espeakLang(voice)}
}

func (e *espeakEngine) Name() string { return "espeak" }

// Synthesize is never reached: Speaker prefers Say.
func (e *espeakEngine) Synthesize(context.Context, string, string) error {
	return fmt.Errorf("espeak plays directly")
}

func (e *espeakEngine) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(e.lang)
	defer C.free(unsafe.Pointer(clang))

	if rc := C.espeak_say(ctext, clang); rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}

// espeakLang turns a locale like en_US into an espeak language tag.
func espeakLang(voice string) string {
	lang := strings.ToLower(strings.ReplaceAll(voice, "_", "-"))
	if lang == "" {
		return "en"
	}
	return lang
}
