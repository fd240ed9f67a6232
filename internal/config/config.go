package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type Mode string

const (
	ModeWakeWord   Mode = "wakeword"
	ModePushToTalk Mode = "push_to_talk"
)

// Config is read once at startup. Flags may override fields before the
// turn loop starts; nothing writes to it afterwards.
type Config struct {
	Mode          Mode
	WakeWord      string
	Threshold     float64
	Debounce      time.Duration
	PTTKey        string
	PTTTerminal   bool
	RecordSeconds float64
	SampleRate    int
	Channels      int

	ScryptedURL   string
	ScryptedToken string
	DeviceIDs     map[string]string

	OllamaURL string
	LLMModel  string
	VLMModel  string
	LLMSystem string

	STTModel        string
	WhisperModelDir string

	TTSEngine string
	Voice     string

	StatusAddr string
	SocksProxy string
	Chime      string
	Duck       bool
}

func Load() (Config, error) {
	cfg := Config{
		Mode:            ModeWakeWord,
		WakeWord:        env("WAKEWORD", "hey_nova"),
		PTTKey:          env("PTT_KEY", "F9"),
		ScryptedURL:     strings.TrimRight(os.Getenv("SCRYPTED_URL"), "/"),
		ScryptedToken:   os.Getenv("SCRYPTED_TOKEN"),
		OllamaURL:       strings.TrimRight(env("OLLAMA_URL", "http://localhost:11434"), "/"),
		LLMModel:        env("LLM_MODEL", "llama3.1"),
		VLMModel:        env("VLM_MODEL", "llava"),
		LLMSystem:       os.Getenv("LLM_SYSTEM"),
		STTModel:        env("STT_MODEL", "medium.en"),
		WhisperModelDir: env("WHISPER_MODEL_DIR", "models"),
		TTSEngine:       env("TTS_ENGINE", "auto"),
		Voice:           env("VOICE", "en_US"),
		StatusAddr:      env("STATUS_ADDR", ":8000"),
		SocksProxy:      os.Getenv("SOCKS_PROXY"),
		Chime:           os.Getenv("CHIME"),
	}

	var err error
	if truthy(os.Getenv("USE_PUSH_TO_TALK")) {
		cfg.Mode = ModePushToTalk
	}
	cfg.PTTTerminal = truthy(os.Getenv("PTT_TERMINAL"))
	cfg.Duck = truthy(os.Getenv("DUCK"))

	if cfg.Threshold, err = cast.ToFloat64E(env("WAKE_THRESHOLD", "0.75")); err != nil {
		return Config{}, fmt.Errorf("WAKE_THRESHOLD: %w", err)
	}
	if cfg.Debounce, err = cast.ToDurationE(env("DEBOUNCE", "1s")); err != nil {
		return Config{}, fmt.Errorf("DEBOUNCE: %w", err)
	}
	if cfg.RecordSeconds, err = cast.ToFloat64E(env("RECORD_SECONDS", "4")); err != nil {
		return Config{}, fmt.Errorf("RECORD_SECONDS: %w", err)
	}
	if cfg.SampleRate, err = cast.ToIntE(env("SAMPLE_RATE", "16000")); err != nil {
		return Config{}, fmt.Errorf("SAMPLE_RATE: %w", err)
	}
	if cfg.Channels, err = cast.ToIntE(env("CHANNELS", "1")); err != nil {
		return Config{}, fmt.Errorf("CHANNELS: %w", err)
	}
	if cfg.DeviceIDs, err = ParseDeviceIDs(os.Getenv("DEVICE_IDS")); err != nil {
		return Config{}, fmt.Errorf("DEVICE_IDS: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Mode != ModeWakeWord && c.Mode != ModePushToTalk {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Mode == ModeWakeWord && strings.TrimSpace(c.WakeWord) == "" {
		errs = append(errs, errors.New("wakeword is empty"))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0,1]", c.Threshold))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %v", c.Debounce))
	}
	if strings.TrimSpace(c.PTTKey) == "" {
		errs = append(errs, errors.New("push-to-talk key is empty"))
	}
	if c.RecordSeconds <= 0 {
		errs = append(errs, fmt.Errorf("record seconds must be positive, got %v", c.RecordSeconds))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", c.Channels))
	}

	return errors.Join(errs...)
}

// WhisperModelPath maps a model name such as "medium.en" to
// <dir>/ggml-medium.en.bin. Values that already look like a path are
// returned unchanged.
func (c Config) WhisperModelPath() string {
	m := c.STTModel
	if strings.ContainsRune(m, os.PathSeparator) || strings.HasSuffix(m, ".bin") {
		return m
	}
	return filepath.Join(c.WhisperModelDir, "ggml-"+m+".bin")
}

// ParseDeviceIDs parses "kitchen=cam1,front door=cam2". Room names are
// lowercased.
func ParseDeviceIDs(s string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		room, id, ok := strings.Cut(pair, "=")
		room = strings.ToLower(strings.TrimSpace(room))
		id = strings.TrimSpace(id)
		if !ok || room == "" || id == "" {
			return nil, fmt.Errorf("bad pair %q, want room=id", pair)
		}
		out[room] = id
	}

	return out, nil
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
