package app

import (
	"context"
	"testing"

	"github.com/voxgate/voxgate/internal/config"
)

func TestBuildLLMRequiresName(t *testing.T) {
	if _, err := buildLLM(config.ProviderEntry{}); err == nil {
		t.Fatal("expected error for missing provider name")
	}
}

func TestBuildLLMOpenAI(t *testing.T) {
	p, err := buildLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("buildLLM: %v", err)
	}
	if p == nil {
		t.Fatal("nil provider")
	}
}

func TestBuildTTSOptional(t *testing.T) {
	p, err := buildTTS(config.ProviderEntry{})
	if err != nil {
		t.Fatalf("buildTTS: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil provider when unconfigured")
	}

	if _, err := buildTTS(config.ProviderEntry{Name: "polly"}); err == nil {
		t.Fatal("expected error for unsupported tts provider")
	}

	p, err = buildTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "el-test"})
	if err != nil {
		t.Fatalf("buildTTS: %v", err)
	}
	if p == nil {
		t.Fatal("nil provider")
	}
}

func TestBuildSearchAndVideoOptional(t *testing.T) {
	if p, err := buildSearch(config.ProviderEntry{}); err != nil || p != nil {
		t.Fatalf("unconfigured search = %v, %v", p, err)
	}
	if p, err := buildVideo(config.ProviderEntry{}); err != nil || p != nil {
		t.Fatalf("unconfigured video = %v, %v", p, err)
	}

	if _, err := buildSearch(config.ProviderEntry{Name: "tavily", APIKey: "tv-test"}); err != nil {
		t.Fatalf("buildSearch: %v", err)
	}
	if _, err := buildVideo(config.ProviderEntry{Name: "tavus", APIKey: "ts-test"}); err != nil {
		t.Fatalf("buildVideo: %v", err)
	}
}

func TestAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("VOXGATE_TEST_KEY", "from-env")

	if got := apiKey(config.ProviderEntry{APIKey: "explicit"}, "VOXGATE_TEST_KEY"); got != "explicit" {
		t.Errorf("explicit key = %q", got)
	}
	if got := apiKey(config.ProviderEntry{}, "VOXGATE_TEST_KEY"); got != "from-env" {
		t.Errorf("env key = %q", got)
	}
}

func TestBuildStoresInProcessFallback(t *testing.T) {
	a := &App{cfg: &config.Config{}}

	history, memories, knowledge, err := a.buildStores(context.Background(), nil)
	if err != nil {
		t.Fatalf("buildStores: %v", err)
	}
	if history == nil || memories == nil || knowledge == nil {
		t.Fatal("nil store")
	}
	if a.store != nil {
		t.Error("postgres store should not be set for the in-process path")
	}
}

func TestBuildStoresDSNRequiresEmbeddings(t *testing.T) {
	a := &App{cfg: &config.Config{
		Memory: config.MemoryConfig{PostgresDSN: "postgres://localhost/voxgate"},
	}}

	if _, _, _, err := a.buildStores(context.Background(), nil); err == nil {
		t.Fatal("expected error when dsn is set without an embeddings provider")
	}
}
