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

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai"},
	"video":      {"tavus"},
	"search":     {"tavily"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
// Unknown fields are rejected so typos fail loudly at startup.
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

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("video", cfg.Providers.Video.Name)
	validateProviderName("search", cfg.Providers.Search.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Avatars) > 0 {
		slog.Warn("providers.tts is not configured; responses will be text only")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history and long-term memory will not persist")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	if cfg.Session.MaxSessionsPerUser < 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions_per_user %d must not be negative", cfg.Session.MaxSessionsPerUser))
	}
	if cfg.Pipeline.SynthConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.synth_concurrency %d must not be negative", cfg.Pipeline.SynthConcurrency))
	}

	for name, b := range cfg.Breakers {
		if b.ErrorThresholdPercentage < 0 || b.ErrorThresholdPercentage > 100 {
			errs = append(errs, fmt.Errorf("breakers.%s.error_threshold_percentage %d is out of range [0, 100]", name, b.ErrorThresholdPercentage))
		}
		if b.WindowSize < 0 || b.MinimumVolume < 0 {
			errs = append(errs, fmt.Errorf("breakers.%s window_size and minimum_volume must not be negative", name))
		}
	}

	idsSeen := make(map[string]int, len(cfg.Avatars))
	for i, av := range cfg.Avatars {
		prefix := fmt.Sprintf("avatars[%d]", i)
		if av.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[av.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of avatars[%d]", prefix, av.ID, prev))
			}
			idsSeen[av.ID] = i
		}
		if av.SystemPrompt == "" {
			errs = append(errs, fmt.Errorf("%s.system_prompt is required", prefix))
		}
		if av.VoiceID == "" && cfg.Providers.TTS.Name != "" {
			slog.Warn("avatar has no voice configured; its responses will be text only", "avatar", av.ID)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
