// Command voicetalk runs the voice conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/PAID-LLC/voice-talk-app/internal/app"
	"github.com/PAID-LLC/voice-talk-app/internal/config"
	"github.com/PAID-LLC/voice-talk-app/internal/observe"
	"github.com/PAID-LLC/voice-talk-app/pkg/audio"
	"github.com/PAID-LLC/voice-talk-app/pkg/audio/portaudio"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat/anyllm"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/chat/huggingface"
	oaichat "github.com/PAID-LLC/voice-talk-app/pkg/provider/chat/openai"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt/voskserver"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/stt/whisper"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts/coqui"
	"github.com/PAID-LLC/voice-talk-app/pkg/provider/tts/elevenlabs"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "poll the config file and apply safe changes at runtime")
	interactive := flag.Bool("interactive", true, "read conversation commands from stdin")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicetalk: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicetalk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(app.LevelFor(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicetalk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry provider ────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicetalk",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(ctx, reg)

	// ── Instantiate backends ──────────────────────────────────────────────────
	backends := buildBackends(cfg, reg)

	printStartupSummary(cfg, backends)

	// ── Application ───────────────────────────────────────────────────────────
	appOpts := []app.Option{
		app.WithLogger(logger),
		app.WithLogLevel(level),
	}
	if *watch {
		appOpts = append(appOpts, app.WithConfigWatch(*configPath))
	}

	var console *Console
	if *interactive {
		console = NewConsole(os.Stdin, os.Stdout)
		appOpts = append(appOpts, app.WithEventHandler(console.OnEvent))
	}

	application, err := app.New(ctx, cfg, backends, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if console != nil {
		go console.Run(ctx, stop, application.Orchestrator())
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires all built-in backend factories into reg. Each
// factory receives a config.BackendEntry and constructs the adapter from the
// real implementation packages.
func registerBuiltinBackends(ctx context.Context, reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.BackendEntry, audioCfg config.AudioConfig) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if audioCfg.SampleRate > 0 {
			opts = append(opts, whisper.WithSampleRate(audioCfg.SampleRate))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterSTT("vosk-server", func(entry config.BackendEntry, audioCfg config.AudioConfig) (stt.Recognizer, error) {
		var opts []voskserver.Option
		if audioCfg.SampleRate > 0 {
			opts = append(opts, voskserver.WithSampleRate(audioCfg.SampleRate))
		}
		return voskserver.New(ctx, entry.BaseURL, opts...)
	})

	// ── AI ────────────────────────────────────────────────────────────────────

	reg.RegisterChat("openai", func(entry config.BackendEntry) (chat.Backend, error) {
		var opts []oaichat.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaichat.WithBaseURL(entry.BaseURL))
		}
		if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
			opts = append(opts, oaichat.WithSystemPrompt(prompt))
		}
		return oaichat.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, ollama, deepseek, mistral, and groq all go through
	// the any-llm multi-provider client.
	for _, providerName := range []string{
		"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
	} {
		reg.RegisterChat(providerName, func(entry config.BackendEntry) (chat.Backend, error) {
			var libOpts []anyllmlib.Option
			if entry.APIKey != "" {
				libOpts = append(libOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				libOpts = append(libOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			var opts []anyllm.Option
			if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
				opts = append(opts, anyllm.WithSystemPrompt(prompt))
			}
			return anyllm.New(providerName, entry.Model, libOpts, opts...)
		})
	}

	reg.RegisterChat("huggingface", func(entry config.BackendEntry) (chat.Backend, error) {
		var opts []huggingface.Option
		if entry.BaseURL != "" {
			opts = append(opts, huggingface.WithBaseURL(entry.BaseURL))
		}
		return huggingface.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.BackendEntry, _ config.SpeechConfig) (tts.Synthesizer, error) {
		player := portaudio.NewPlayer(audio.DefaultSampleRate)
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, player, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.BackendEntry, _ config.SpeechConfig) (tts.Synthesizer, error) {
		player := portaudio.NewPlayer(audio.DefaultSampleRate)
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, player, opts...), nil
	})

	// ── Audio source ──────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(audioCfg config.AudioConfig) (audio.Source, error) {
		var opts []portaudio.Option
		if audioCfg.SampleRate > 0 {
			opts = append(opts, portaudio.WithSampleRate(audioCfg.SampleRate))
		}
		if audioCfg.Device != "" {
			opts = append(opts, portaudio.WithDeviceHint(audioCfg.Device))
		}
		return portaudio.NewSource(opts...), nil
	})
}

// buildBackends instantiates the configured backends. Construction failures
// are logged and skipped: the quota arbiter demotes a backend whose adapter
// is missing the first time it is selected, so a partially built set still
// serves.
func buildBackends(cfg *config.Config, reg *config.Registry) *app.Backends {
	b := &app.Backends{
		Chats:    make(map[string]chat.Backend),
		Speakers: make(map[string]tts.Synthesizer),
	}

	// The capture pipeline drives a single recognizer; the first STT entry
	// that constructs wins. A failed construction degrades to the next one.
	for _, entry := range cfg.Capabilities.STT {
		rec, err := reg.CreateSTT(entry, cfg.Audio)
		if err != nil {
			slog.Warn("stt backend unavailable", "name", entry.Name, "err", err)
			continue
		}
		b.Recognizer = rec
		slog.Info("backend created", "kind", "stt", "name", entry.Name)
		break
	}

	for _, entry := range cfg.Capabilities.AI {
		backend, err := reg.CreateChat(entry)
		if err != nil {
			slog.Warn("ai backend unavailable", "name", entry.Name, "err", err)
			continue
		}
		b.Chats[entry.Name] = backend
		slog.Info("backend created", "kind", "ai", "name", entry.Name, "model", entry.Model)
	}

	for _, entry := range cfg.Capabilities.TTS {
		synth, err := reg.CreateTTS(entry, cfg.Speech)
		if err != nil {
			slog.Warn("tts backend unavailable", "name", entry.Name, "err", err)
			continue
		}
		b.Speakers[entry.Name] = synth
		slog.Info("backend created", "kind", "tts", "name", entry.Name)
	}

	if cfg.Audio.Source != "" {
		src, err := reg.CreateSource(cfg.Audio)
		if err != nil {
			slog.Warn("audio source unavailable", "name", cfg.Audio.Source, "err", err)
		} else {
			b.Source = src
			slog.Info("audio source created", "name", cfg.Audio.Source)
		}
	}

	return b
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, b *app.Backends) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicetalk — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSlot("Audio source", cfg.Audio.Source, b.Source != nil)
	sttName := ""
	if len(cfg.Capabilities.STT) > 0 {
		sttName = cfg.Capabilities.STT[0].Name
	}
	printSlot("Recognizer", sttName, b.Recognizer != nil)
	fmt.Printf("║  AI backends     : %-19d ║\n", len(b.Chats))
	fmt.Printf("║  TTS backends    : %-19d ║\n", len(b.Speakers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", trim(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printSlot(kind, name string, ok bool) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if !ok {
		value += " (failed)"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, trim(value))
}

func trim(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
