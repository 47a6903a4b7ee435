// Package app assembles the Voxgate server from configuration: providers,
// stores, the response pipeline, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/respond"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/turncache"
	"github.com/voxgate/voxgate/internal/videointent"
	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/memory/inmem"
	"github.com/voxgate/voxgate/pkg/memory/postgres"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
	embedopenai "github.com/voxgate/voxgate/pkg/provider/embeddings/openai"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/anyllm"
	llmopenai "github.com/voxgate/voxgate/pkg/provider/llm/openai"
	"github.com/voxgate/voxgate/pkg/provider/search"
	"github.com/voxgate/voxgate/pkg/provider/search/tavily"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/provider/tts/elevenlabs"
	"github.com/voxgate/voxgate/pkg/provider/video"
	"github.com/voxgate/voxgate/pkg/provider/video/tavus"
)

// sweepInterval is how often idle sessions are reaped.
const sweepInterval = time.Minute

// App is the assembled server.
type App struct {
	cfg      *config.Config
	server   *http.Server
	sessions *session.Manager
	store    *postgres.Store // nil when running on in-process stores
	otelStop func(context.Context) error
}

// New builds an App from cfg. It initialises telemetry, constructs every
// configured provider, selects Postgres or in-process storage, and wires the
// response pipeline behind the HTTP surface.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	otelStop, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxgate"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	a := &App{cfg: cfg, otelStop: otelStop}

	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	ttsProvider, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, err
	}
	videoProvider, err := buildVideo(cfg.Providers.Video)
	if err != nil {
		return nil, err
	}
	searchProvider, err := buildSearch(cfg.Providers.Search)
	if err != nil {
		return nil, err
	}

	history, memories, knowledge, err := a.buildStores(ctx, embedder)
	if err != nil {
		return nil, err
	}

	onTransition := func(name string, _, to resilience.State) {
		metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	breakers := resilience.NewRegistry(resilience.Settings{OnTransition: onTransition})
	for name, b := range cfg.Breakers {
		breakers.Configure(name, resilience.Settings{
			Timeout:                  b.Timeout.Std(),
			ErrorThresholdPercentage: b.ErrorThresholdPercentage,
			WindowSize:               b.WindowSize,
			MinimumVolume:            b.MinimumVolume,
			ResetTimeout:             b.ResetTimeout.Std(),
			OnTransition:             onTransition,
		})
	}

	cache := turncache.NewCache(cfg.Cache.TTL.Std())
	fetchOpts := []turncache.FetcherOption{}
	if d := cfg.Cache.SubTaskTimeout.Std(); d > 0 {
		fetchOpts = append(fetchOpts, turncache.WithSubTaskTimeout(d))
	}
	if searchProvider != nil {
		fetchOpts = append(fetchOpts, turncache.WithWebSearch(searchProvider))
	}
	fetcher := turncache.NewFetcher(memories, knowledge, history, fetchOpts...)
	refresher := turncache.NewRefresher(cache, fetcher)

	avatars := make([]respond.AvatarProfile, 0, len(cfg.Avatars))
	byID := make(map[string]*respond.AvatarProfile, len(cfg.Avatars))
	for _, av := range cfg.Avatars {
		profile := respond.AvatarProfile{
			ID:           av.ID,
			Name:         av.Name,
			SystemPrompt: av.SystemPrompt,
			VoiceID:      av.VoiceID,
			LanguageCode: av.Language,
			Namespaces:   av.Namespaces,
			VideoEnabled: av.VideoEnabled,
			Greeting:     av.Greeting,
		}
		avatars = append(avatars, profile)
	}
	for i := range avatars {
		byID[avatars[i].ID] = &avatars[i]
	}

	var machine *videointent.Machine
	if videoProvider != nil {
		machine = videointent.NewMachine(videointent.Config{
			Store:      videointent.NewStore(0),
			Classifier: videointent.NewClassifier(llmProvider, 0),
			Video:      videoProvider,
			Breakers:   breakers,
			VideoEnabled: func(avatarID string) bool {
				av, ok := byID[avatarID]
				return ok && av.VideoEnabled
			},
			Metrics: metrics,
		})
	}

	orch := respond.NewOrchestrator(respond.Config{
		LLM:       llmProvider,
		TTS:       ttsProvider,
		History:   history,
		Memories:  memories,
		Cache:     cache,
		Fetcher:   fetcher,
		Refresher: refresher,
		Video:     machine,
		Breakers:  breakers,
		Metrics:   metrics,
		Avatar: func(id string) (*respond.AvatarProfile, bool) {
			av, ok := byID[id]
			return av, ok
		},
		SynthConcurrency: cfg.Pipeline.SynthConcurrency,
		MaxSentenceLen:   cfg.Pipeline.MaxSentenceLen,
		HistoryLimit:     cfg.Pipeline.HistoryLimit,
		ThinkingPhrase:   cfg.Pipeline.ThinkingPhrase,
	})

	a.sessions = session.NewManager(session.Config{
		MaxSessionsPerUser:   cfg.Session.MaxSessionsPerUser,
		AvatarSwitchCooldown: cfg.Session.AvatarSwitchCooldown.Std(),
		IdleTimeout:          cfg.Session.IdleTimeout.Std(),
		Metrics:              metrics,
	})

	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.store.Ping})
	}

	srv := api.NewServer(api.Config{
		Orchestrator: orch,
		Sessions:     a.sessions,
		Breakers:     breakers,
		Health:       health.New(checkers...),
		Avatars:      avatars,
		Metrics:      metrics,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// buildStores selects Postgres when a DSN is configured, otherwise in-process
// stores that live for the lifetime of the server.
func (a *App) buildStores(ctx context.Context, embedder embeddings.Provider) (memory.HistoryStore, memory.MemoryStore, memory.KnowledgeIndex, error) {
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres dsn configured, using in-process stores")
		return inmem.NewHistoryStore(), inmem.NewMemoryStore(), inmem.NewKnowledgeIndex(), nil
	}
	if embedder == nil {
		return nil, nil, nil, errors.New("app: memory.postgres_dsn is set but providers.embeddings is not configured")
	}

	store, err := postgres.NewStore(ctx, dsn, embedder)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.store = store
	return store.History(), store.Memories(), store.Knowledge(), nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully within
// the configured timeout.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go a.sweepLoop(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		a.cleanup(context.Background())
		return err
	case <-ctx.Done():
	}

	timeout := a.cfg.Server.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down", slog.Duration("timeout", timeout))
	err := a.server.Shutdown(shutdownCtx)
	a.cleanup(shutdownCtx)
	<-errCh
	return err
}

// cleanup releases resources held by the App.
func (a *App) cleanup(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing postgres store", slog.String("error", err.Error()))
		}
	}
	if a.otelStop != nil {
		if err := a.otelStop(ctx); err != nil {
			slog.Warn("shutting down telemetry", slog.String("error", err.Error()))
		}
	}
}

// sweepLoop reaps idle sessions until ctx is cancelled.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				slog.Info("swept idle sessions", slog.Int("count", n))
			}
		}
	}
}

// apiKey resolves the key for a provider entry, falling back to the named
// environment variable.
func apiKey(entry config.ProviderEntry, envVar string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(envVar)
}

// buildLLM constructs the response model provider. The "openai" name uses the
// native SDK client; every other recognised name goes through any-llm-go.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "":
		return nil, errors.New("app: providers.llm.name is required")
	case "openai":
		opts := []llmopenai.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		p, err := llmopenai.New(apiKey(entry, "OPENAI_API_KEY"), entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build llm provider: %w", err)
		}
		return p, nil
	default:
		p, err := anyllm.New(entry.Name, entry.Model)
		if err != nil {
			return nil, fmt.Errorf("app: build llm provider: %w", err)
		}
		return p, nil
	}
}

// buildTTS constructs the synthesis provider, or nil when none is configured.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "elevenlabs":
		opts := []elevenlabs.Option{}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		p, err := elevenlabs.New(apiKey(entry, "ELEVENLABS_API_KEY"), opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build tts provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("app: unsupported tts provider %q", entry.Name)
	}
}

// buildEmbeddings constructs the embeddings provider, or nil when none is
// configured.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "openai":
		opts := []embedopenai.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, embedopenai.WithBaseURL(entry.BaseURL))
		}
		p, err := embedopenai.New(apiKey(entry, "OPENAI_API_KEY"), entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build embeddings provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("app: unsupported embeddings provider %q", entry.Name)
	}
}

// buildVideo constructs the video generation provider, or nil when none is
// configured.
func buildVideo(entry config.ProviderEntry) (video.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "tavus":
		opts := []tavus.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, tavus.WithBaseURL(entry.BaseURL))
		}
		p, err := tavus.New(apiKey(entry, "TAVUS_API_KEY"), opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build video provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("app: unsupported video provider %q", entry.Name)
	}
}

// buildSearch constructs the web search provider, or nil when none is
// configured.
func buildSearch(entry config.ProviderEntry) (search.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "tavily":
		opts := []tavily.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(entry.BaseURL))
		}
		p, err := tavily.New(apiKey(entry, "TAVILY_API_KEY"), opts...)
		if err != nil {
			return nil, fmt.Errorf("app: build search provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("app: unsupported search provider %q", entry.Name)
	}
}
