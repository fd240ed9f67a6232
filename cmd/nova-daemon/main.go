package main

import (
	"context"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"nova/internal/audio"
	"nova/internal/brain"
	"nova/internal/config"
	"nova/internal/intents"
	"nova/internal/ipc"
	"nova/internal/lastturn"
	"nova/internal/llm"
	"nova/internal/metrics"
	"nova/internal/notify"
	"nova/internal/proxy"
	"nova/internal/scrypted"
	"nova/internal/status"
	"nova/internal/tts"
	"nova/internal/wake"
	"nova/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address (overrides SOCKS_PROXY)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	quiet := cli.BoolP("quiet", "q", false, "Only log errors")
	noWake := cli.Bool("no-wake", false, "Use push-to-talk instead of the wake word")
	sttModel := cli.String("stt-model", "", "Whisper model name or path (overrides STT_MODEL)")
	statusAddr := cli.String("status-addr", "", "Status server address (overrides STATUS_ADDR)")
	socket := cli.String("socket", ipc.DefaultSocketPath, "Control socket path")
	cli.Parse()

	level := logLevelMap[*logLevel]
	if *quiet {
		level = log.LevelError
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
	})))

	log.Info("Booting up")

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if *noWake {
		cfg.Mode = config.ModePushToTalk
	}
	if *sttModel != "" {
		cfg.STTModel = *sttModel
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if *proxyAddr != "" {
		cfg.SocksProxy = *proxyAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded config", "mode", cfg.Mode, "wakeword", cfg.WakeWord, "rooms", len(cfg.DeviceIDs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *socket); err != nil {
		log.Error("Stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, cfg config.Config, socket string) error {
	httpClient, err := proxy.NewClient(cfg.SocksProxy, proxy.DefaultTimeout)
	if err != nil {
		return err
	}

	mic := audio.NewMic()
	if err := mic.Init(); err != nil {
		return err
	}
	defer mic.Close()

	log.Debug("Loaded microphone")

	whisper, err := stt.NewTranscriber(cfg.WhisperModelPath(), stt.Options{Language: "auto"})
	if err != nil {
		return err
	}
	defer whisper.Close()

	log.Debug("Loaded whisper", "model", cfg.WhisperModelPath())

	m := metrics.New()
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}

	latch := wake.NewLatch()
	if hk, err := wake.ListenHotkey(cfg.PTTKey, latch); err != nil {
		log.Warn("Hotkey unavailable", "key", cfg.PTTKey, "err", err)
	} else {
		defer hk.Close()
	}
	if cfg.PTTTerminal {
		if ts, err := wake.ListenTerminal(cfg.PTTKey, latch); err != nil {
			log.Warn("Terminal push-to-talk unavailable", "err", err)
		} else {
			defer ts.Close()
		}
	}

	var scorer wake.Scorer
	if cfg.Mode == config.ModeWakeWord {
		scorer = wake.NewTranscriptScorer(whisper, cfg.SampleRate, 1500*time.Millisecond, 500*time.Millisecond)
	}
	detector := wake.NewDetector(wake.Options{
		PushToTalk: cfg.Mode == config.ModePushToTalk,
		WakeWord:   cfg.WakeWord,
		Threshold:  cfg.Threshold,
		Debounce:   cfg.Debounce,
		Format:     format,
	}, wake.MicSource{Mic: mic, Dropped: m.Dropped}, scorer, latch)
	if err := detector.Check(); err != nil {
		return err
	}

	runtimeDir, err := os.MkdirTemp("", "nova-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(runtimeDir)

	rec := audio.NewRecorder(mic, cfg.RecordSeconds, format, runtimeDir)

	model := llm.New(llm.Options{
		BaseURL:     cfg.OllamaURL,
		Model:       cfg.LLMModel,
		VisionModel: cfg.VLMModel,
		HTTPClient:  httpClient,
		MaxRetries:  2,
	})

	devices := scrypted.New(cfg.ScryptedURL, cfg.ScryptedToken, httpClient)
	rooms := maps.Clone(cfg.DeviceIDs)
	if cfg.ScryptedToken != "" {
		discoverRooms(ctx, devices, rooms)
	}

	router := intents.NewRouter(rooms, devices, model, model, cfg.LLMSystem)

	speaker := tts.NewSpeaker(tts.PickEngine(cfg.TTSEngine, cfg.Voice), runtimeDir)
	store := lastturn.New()

	deps := brain.Deps{
		Trigger:     detector,
		Capturer:    rec,
		Transcriber: whisper,
		Router:      router,
		Speaker:     speaker,
		Store:       store,
		Metrics:     m,
	}
	if !strings.EqualFold(cfg.Chime, "off") {
		deps.Cue = notify.NewChime(cfg.Chime)
	}
	if cfg.Duck {
		deps.Ducker = audio.NewDucker([]string{"nova"}, 0.3, 10, 300*time.Millisecond)
	}
	b := brain.New(deps)

	go func() {
		srv := status.New(status.Options{
			Addr:     cfg.StatusAddr,
			Store:    store,
			Stage:    func() string { return b.Stage().String() },
			Speaker:  speaker,
			Gatherer: m.Registry,
		})
		if err := srv.Run(ctx); err != nil {
			log.Error("Status server failed", "err", err)
		}
	}()

	ctl, err := ipc.StartServer(ctx, socket, control{
		press:      latch.Press,
		say:        speaker.TrySpeak,
		transcribe: whisper.Transcribe,
		stage:      func() string { return b.Stage().String() },
		mode:       string(cfg.Mode),
		engine:     speaker.Engine(),
		store:      store,
	}.handle)
	if err != nil {
		return err
	}
	defer ctl.Close()

	log.Info("Boot up - successful", "mode", cfg.Mode, "tts", speaker.Engine(), "status", cfg.StatusAddr)

	return b.Run(ctx)
}

// discoverRooms maps every listed device whose name is not already a room.
func discoverRooms(ctx context.Context, devices *scrypted.Client, rooms map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := devices.ListDevices(ctx)
	if err != nil {
		log.Warn("Failed to list devices", "err", err)
		return
	}

	for _, d := range list {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		log.Debug("Device", "id", d.ID, "name", d.Name, "type", d.Type)
		if name == "" {
			continue
		}
		if _, ok := rooms[name]; !ok {
			rooms[name] = d.ID
		}
	}
	log.Info("Listed devices", "count", len(list), "rooms", len(rooms))
}
