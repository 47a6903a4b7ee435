package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  shutdown_timeout: 15s
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  tts:
    name: elevenlabs
memory:
  postgres_dsn: "postgres://localhost:5432/voxgate"
  embedding_dimensions: 1536
session:
  max_sessions_per_user: 3
  avatar_switch_cooldown: 10s
  idle_timeout: 30m
cache:
  ttl: 10m
  sub_task_timeout: 2s
pipeline:
  synth_concurrency: 4
  max_sentence_len: 100
breakers:
  llm:
    timeout: 45s
    error_threshold_percentage: 50
  tts:
    timeout: 10s
avatars:
  - id: ava
    name: Ava
    system_prompt: "You are Ava."
    voice_id: v1
    language: en
    namespaces: [health, general]
    video_enabled: true
    greeting: "Hi, I'm Ava."
`

func TestLoadValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout.Std() != 15*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Session.AvatarSwitchCooldown.Std() != 10*time.Second {
		t.Errorf("cooldown = %v", cfg.Session.AvatarSwitchCooldown)
	}
	if cfg.Cache.TTL.Std() != 10*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
	if b, ok := cfg.Breakers["llm"]; !ok || b.Timeout.Std() != 45*time.Second || b.ErrorThresholdPercentage != 50 {
		t.Errorf("breakers.llm = %+v", b)
	}
	if len(cfg.Avatars) != 1 {
		t.Fatalf("avatars = %d", len(cfg.Avatars))
	}
	av := cfg.Avatars[0]
	if av.ID != "ava" || !av.VideoEnabled || len(av.Namespaces) != 2 {
		t.Errorf("avatar = %+v", av)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":8080"
  lug_level: info
providers:
  llm:
    name: openai
`))
	if err == nil {
		t.Fatal("typo field accepted")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  shutdown_timeout: soon
providers:
  llm:
    name: openai
`))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{LogLevel: "chatty"},
		Avatars: []AvatarConfig{
			{ID: "", SystemPrompt: ""},
			{ID: "dup", SystemPrompt: "x"},
			{ID: "dup", SystemPrompt: "y"},
		},
		Breakers: map[string]BreakerConfig{
			"llm": {ErrorThresholdPercentage: 150},
		},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"providers.llm.name is required",
		"avatars[0].id is required",
		"avatars[0].system_prompt is required",
		`avatars[2].id "dup" is a duplicate`,
		"error_threshold_percentage 150",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}
