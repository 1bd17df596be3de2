package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known backend names per capability.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"stt": {"whisper", "vosk-server"},
	"ai":  {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "huggingface"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}

	// Recording bounds
	if cfg.Recording.MaxDuration < 0 {
		errs = append(errs, errors.New("recording.max_duration must not be negative"))
	}
	if cfg.Recording.MaxFrames < 0 {
		errs = append(errs, errors.New("recording.max_frames must not be negative"))
	}

	// Capability backend lists
	errs = append(errs, validateBackends("stt", cfg.Capabilities.STT)...)
	errs = append(errs, validateBackends("ai", cfg.Capabilities.AI)...)
	errs = append(errs, validateBackends("tts", cfg.Capabilities.TTS)...)

	if len(cfg.Capabilities.AI) == 0 {
		slog.Warn("no ai backend configured; turns will always return the fallback reply")
	}
	if len(cfg.Capabilities.TTS) == 0 {
		slog.Warn("no tts backend configured; replies will not be spoken")
	}
	if len(cfg.Capabilities.STT) == 0 {
		slog.Warn("no stt backend configured; voice input is disabled")
	}

	// Speech
	if cfg.Speech.RateWPM < 0 {
		errs = append(errs, fmt.Errorf("speech.rate_wpm %d must not be negative", cfg.Speech.RateWPM))
	}

	return errors.Join(errs...)
}

// validateBackends checks one capability's backend list for duplicates,
// missing names, and nonsensical quota values.
func validateBackends(capability string, entries []BackendEntry) []error {
	var errs []error

	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		prefix := fmt.Sprintf("capabilities.%s[%d]", capability, i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of capabilities.%s[%d]", prefix, entry.Name, capability, prev))
		}
		seen[entry.Name] = i

		validateBackendName(capability, entry.Name)

		if entry.Quota.Limit < 0 {
			errs = append(errs, fmt.Errorf("%s.quota.limit %d must not be negative", prefix, entry.Quota.Limit))
		}
		if entry.Quota.Window < 0 {
			errs = append(errs, fmt.Errorf("%s.quota.window must not be negative", prefix))
		}
	}
	return errs
}

// validateBackendName logs a warning if name is not found in the
// [ValidBackendNames] list for the given capability.
func validateBackendName(capability, name string) {
	known, ok := ValidBackendNames[capability]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or third-party backend",
		"capability", capability,
		"name", name,
		"known", known,
	)
}
