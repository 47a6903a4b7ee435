package respond

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/turncache"
	"github.com/voxgate/voxgate/internal/videointent"
	"github.com/voxgate/voxgate/pkg/memory"
	memorymock "github.com/voxgate/voxgate/pkg/memory/mock"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	ttsmock "github.com/voxgate/voxgate/pkg/provider/tts/mock"
	videomock "github.com/voxgate/voxgate/pkg/provider/video/mock"
)

type fixture struct {
	llm       *llmmock.Provider
	tts       *ttsmock.Provider
	history   *memorymock.HistoryStore
	memories  *memorymock.MemoryStore
	knowledge *memorymock.KnowledgeIndex
	cache     *turncache.Cache
	orch      *Orchestrator
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		llm:       &llmmock.Provider{},
		tts:       &ttsmock.Provider{},
		history:   &memorymock.HistoryStore{},
		memories:  &memorymock.MemoryStore{},
		knowledge: &memorymock.KnowledgeIndex{},
		cache:     turncache.NewCache(time.Minute),
	}

	avatar := &AvatarProfile{
		ID:           "a1",
		Name:         "Ava",
		SystemPrompt: "You are Ava.",
		VoiceID:      "v1",
		Namespaces:   []string{"health"},
	}

	cfg := Config{
		LLM:      f.llm,
		TTS:      f.tts,
		History:  f.history,
		Memories: f.memories,
		Cache:    f.cache,
		Fetcher:  turncache.NewFetcher(f.memories, f.knowledge, f.history),
		Avatar: func(id string) (*AvatarProfile, bool) {
			if id == avatar.ID {
				return avatar, true
			}
			return nil, false
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.orch = NewOrchestrator(cfg)
	return f
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream did not close; %d events so far", len(out))
		}
	}
}

func eventsOfKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func donePayload(t *testing.T, events []Event) DonePayload {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Kind != EventDone {
		t.Fatalf("last event kind = %s, want done", last.Kind)
	}
	return last.Payload.(DonePayload)
}

func TestStreamHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Hello there. "},
		{Text: "How are "},
		{Text: "you?"},
		{FinishReason: "stop"},
	}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	sentences := eventsOfKind(events, EventSentence)
	if len(sentences) != 2 {
		t.Fatalf("sentence events = %d: %+v", len(sentences), sentences)
	}
	first := sentences[0].Payload.(SentencePayload)
	second := sentences[1].Payload.(SentencePayload)
	if first.Index != 1 || first.Content != "Hello there." {
		t.Errorf("sentence 1 = %+v", first)
	}
	if second.Index != 2 || strings.TrimSpace(second.Content) != "How are you?" {
		t.Errorf("sentence 2 = %+v", second)
	}

	audio := eventsOfKind(events, EventAudio)
	if len(audio) != 2 {
		t.Fatalf("audio events = %d", len(audio))
	}
	indices := map[int]bool{}
	for _, ev := range audio {
		p := ev.Payload.(AudioPayload)
		indices[p.Index] = true
		if p.Type != AudioTypeSentence {
			t.Errorf("audio type = %q", p.Type)
		}
	}
	if !indices[1] || !indices[2] {
		t.Errorf("audio indices = %v, want 1 and 2", indices)
	}

	done := donePayload(t, events)
	if done.Response != "Hello there. How are you?" {
		t.Errorf("done response = %q", done.Response)
	}
	if done.SentenceCount != 2 {
		t.Errorf("sentence count = %d", done.SentenceCount)
	}

	// User turn persisted before the assistant turn.
	turns := f.history.AllTurns()
	if len(turns) != 2 {
		t.Fatalf("persisted turns = %d", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[0].Text != "hi" {
		t.Errorf("turn 1 = %+v", turns[0])
	}
	if turns[1].Role != memory.RoleAssistant || turns[1].Text != done.Response {
		t.Errorf("turn 2 = %+v", turns[1])
	}
}

func TestStreamCacheHitSkipsSyncRetrieval(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamChunks = []llm.Chunk{{Text: "Cached wisdom."}, {FinishReason: "stop"}}

	key := turncache.Key{UserID: "u1", AvatarID: "a1"}
	f.cache.Put(key, &turncache.TurnContext{
		Knowledge: "sleep has stages",
		Memory:    "- likes tea",
		LastQuery: "previous question",
	})

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "tell me more"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	// No Refresher is wired, so any retrieval call would have been the
	// synchronous path.
	if calls := f.knowledge.Calls(); len(calls) != 0 {
		t.Errorf("knowledge queried synchronously on cache hit: %+v", calls)
	}
	if len(f.memories.SearchCalls) != 0 {
		t.Errorf("memory searched synchronously on cache hit: %+v", f.memories.SearchCalls)
	}

	// The cached context reached the prompt.
	streamCalls := f.llm.StreamCalls
	if len(streamCalls) != 1 {
		t.Fatalf("stream calls = %d", len(streamCalls))
	}
	if sys := streamCalls[0].Req.SystemPrompt; !strings.Contains(sys, "sleep has stages") {
		t.Errorf("system prompt missing cached knowledge: %q", sys)
	}
}

func TestStreamMissRetrievesSynchronously(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamChunks = []llm.Chunk{{Text: "Ok."}, {FinishReason: "stop"}}
	f.knowledge.QueryResults = []memory.Snippet{{Content: "fresh snippet"}}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "first question"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	calls := f.knowledge.Calls()
	if len(calls) != 1 {
		t.Fatalf("knowledge calls = %d, want 1 synchronous fetch", len(calls))
	}
	if calls[0].Query != "first question" || calls[0].Namespaces[0] != "health" {
		t.Errorf("knowledge call = %+v", calls[0])
	}
	if sys := f.llm.StreamCalls[0].Req.SystemPrompt; !strings.Contains(sys, "fresh snippet") {
		t.Errorf("system prompt missing fresh knowledge: %q", sys)
	}
}

func TestStreamTextOnlyWithoutTTS(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.TTS = nil
		cfg.ThinkingPhrase = "Let me think."
	})
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Hello there. "},
		{Text: "Bye.", FinishReason: "stop"},
	}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	if audio := eventsOfKind(events, EventAudio); len(audio) != 0 {
		t.Errorf("audio events without a tts provider = %d, want 0", len(audio))
	}
	if sentences := eventsOfKind(events, EventSentence); len(sentences) == 0 {
		t.Error("no sentence events on the text-only path")
	}

	done := donePayload(t, events)
	if done.Response != "Hello there. Bye." {
		t.Errorf("done.Response = %q", done.Response)
	}
	if turns := f.history.AllTurns(); len(turns) != 2 {
		t.Errorf("persisted turns = %d, want 2", len(turns))
	}
}

func TestStreamVideoReplyTextOnlyWithoutTTS(t *testing.T) {
	classifierLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"is_video_request": true, "topic": "sleep", "confidence": 0.9}`,
		},
	}
	machine := videointent.NewMachine(videointent.Config{
		Store:      videointent.NewStore(time.Minute),
		Classifier: videointent.NewClassifier(classifierLLM, 0.7),
		Video:      &videomock.Provider{},
	})

	f := newFixture(t, func(cfg *Config) {
		cfg.TTS = nil
		cfg.Video = machine
	})

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "make me a video about sleep"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	done := donePayload(t, events)
	if done.VideoPendingConfirmation == nil {
		t.Fatalf("done = %+v, want pending confirmation", done)
	}
	if done.Response == "" {
		t.Error("confirmation prompt missing from done")
	}
	if audio := eventsOfKind(events, EventAudio); len(audio) != 0 {
		t.Errorf("audio events without a tts provider = %d, want 0", len(audio))
	}
}

func TestStreamCancellationStopsDispatchAndPersistence(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "One. "},
		{Text: "Two. ", FinishReason: "stop"},
	}
	f.llm.ChunkDelay = 200 * time.Millisecond

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var completed atomic.Bool
	f.tts.SynthesizeFn = func(_ context.Context, req tts.Request) (*tts.Result, error) {
		started <- struct{}{}
		<-release
		completed.Store(true)
		return &tts.Result{Audio: []byte(req.Text), Format: "mp3_44100_128"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.orch.Stream(ctx, Request{UserID: "u1", AvatarID: "a1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	// Disconnect while the first sentence is being synthesized, then let the
	// in-flight call finish.
	<-started
	cancel()
	close(release)

	events := collect(t, ch)

	if !completed.Load() {
		t.Error("in-flight synthesis did not run to completion")
	}
	if audio := eventsOfKind(events, EventAudio); len(audio) != 0 {
		t.Errorf("audio delivered after disconnect = %d, want 0", len(audio))
	}
	if calls := f.tts.Calls(); len(calls) != 1 {
		t.Errorf("synthesis calls = %d, want only the pre-disconnect one", len(calls))
	}
	if turns := f.history.AllTurns(); len(turns) != 0 {
		t.Errorf("turns persisted after disconnect: %+v", turns)
	}

	done := donePayload(t, events)
	if done.Response != "" || done.SentenceCount != 0 {
		t.Errorf("done after disconnect = %+v", done)
	}
}

func TestStreamFatalErrorStillEmitsDone(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamErr = errors.New("model unavailable")

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	fatals := eventsOfKind(events, EventError)
	if len(fatals) != 1 || !fatals[0].Payload.(ErrorPayload).Fatal {
		t.Fatalf("error events = %+v", fatals)
	}

	done := donePayload(t, events)
	if done.Response != "" || done.SentenceCount != 0 {
		t.Errorf("done after fatal = %+v", done)
	}
	if turns := f.history.AllTurns(); len(turns) != 0 {
		t.Errorf("turns persisted after fatal error: %+v", turns)
	}
}

func TestStreamVideoMachineOwnsTurn(t *testing.T) {
	classifierLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"is_video_request": true, "topic": "sleep", "confidence": 0.9}`,
		},
	}
	machine := videointent.NewMachine(videointent.Config{
		Store:      videointent.NewStore(time.Minute),
		Classifier: videointent.NewClassifier(classifierLLM, 0.7),
		Video:      &videomock.Provider{},
	})

	f := newFixture(t, func(cfg *Config) { cfg.Video = machine })

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "make me a video about sleep"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	done := donePayload(t, events)
	if done.VideoPendingConfirmation == nil || done.VideoPendingConfirmation.Topic != "sleep" {
		t.Fatalf("done = %+v, want pending confirmation for sleep", done)
	}
	if done.Response == "" {
		t.Error("confirmation prompt missing from done")
	}
	if len(eventsOfKind(events, EventAudio)) == 0 {
		t.Error("confirmation prompt was not synthesized")
	}
	if len(f.llm.StreamCalls) != 0 {
		t.Error("normal generation ran while the video machine owned the turn")
	}
}

func TestStreamEmitsThinkingFiller(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.ThinkingPhrase = "Let me think." })
	f.llm.StreamChunks = []llm.Chunk{{Text: "Answer."}, {FinishReason: "stop"}}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, ch)

	var thinking bool
	for _, ev := range eventsOfKind(events, EventAudio) {
		if ev.Payload.(AudioPayload).Type == AudioTypeThinking {
			thinking = true
		}
	}
	if !thinking {
		t.Error("no thinking filler audio event emitted")
	}
}

func TestStreamBackgroundRefreshPopulatesCache(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Refresher = turncache.NewRefresher(cfg.Cache, cfg.Fetcher)
	})
	f.llm.StreamChunks = []llm.Chunk{{Text: "Sure."}, {FinishReason: "stop"}}
	f.knowledge.QueryResults = []memory.Snippet{{Content: "refreshed"}}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "question"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	key := turncache.Key{UserID: "u1", AvatarID: "a1"}
	deadline := time.After(2 * time.Second)
	for {
		if entry, ok := f.cache.Get(key); ok {
			if entry.LastQuery != "question" {
				t.Errorf("refreshed entry query = %q", entry.LastQuery)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("background refresh never populated the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStreamFarewellMetadata(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.StreamChunks = []llm.Chunk{{Text: "Goodbye!"}, {FinishReason: "stop"}}

	ch, err := f.orch.Stream(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "goodbye"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	collect(t, ch)

	turns := f.history.AllTurns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d", len(turns))
	}
	if turns[0].Metadata["farewell"] != "true" {
		t.Errorf("user turn metadata = %+v, want farewell", turns[0].Metadata)
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.orch.Stream(context.Background(), Request{AvatarID: "a1", Message: "  "}); err == nil {
		t.Error("empty message accepted")
	}
	if _, err := f.orch.Stream(context.Background(), Request{AvatarID: "ghost", Message: "hi"}); err == nil {
		t.Error("unknown avatar accepted")
	}
}

func TestRespondNonStreaming(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.CompleteResponse = &llm.CompletionResponse{Content: "A full reply."}
	f.knowledge.QueryResults = []memory.Snippet{{Content: "context"}}

	reply, err := f.orch.Respond(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "question"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !reply.Success || reply.Response != "A full reply." || reply.Message != "question" {
		t.Errorf("reply = %+v", reply)
	}
	if !reply.KnowledgeUsed {
		t.Error("knowledge flag not set")
	}
	if reply.MemoryUsed || reply.WebUsed {
		t.Errorf("unexpected context flags: %+v", reply)
	}

	turns := f.history.AllTurns()
	if len(turns) != 2 || turns[0].Role != memory.RoleUser {
		t.Errorf("turns = %+v", turns)
	}
}

func TestRespondVideoGenerating(t *testing.T) {
	classifierLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"is_video_request": true, "topic": "sleep", "confidence": 0.9}`,
		},
	}
	machine := videointent.NewMachine(videointent.Config{
		Store:      videointent.NewStore(time.Minute),
		Classifier: videointent.NewClassifier(classifierLLM, 0.7),
		Video:      &videomock.Provider{},
	})
	f := newFixture(t, func(cfg *Config) { cfg.Video = machine })

	first, err := f.orch.Respond(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "make me a video about sleep"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if first.VideoPendingConfirmation == nil || first.VideoPendingConfirmation.Topic != "sleep" {
		t.Fatalf("first reply = %+v", first)
	}

	second, err := f.orch.Respond(context.Background(), Request{UserID: "u1", AvatarID: "a1", Message: "yes"})
	if err != nil {
		t.Fatalf("Respond confirm: %v", err)
	}
	if second.VideoGenerating == nil || second.VideoGenerating.JobID == "" {
		t.Fatalf("second reply = %+v", second)
	}
	if !strings.Contains(strings.ToLower(second.Response), "video") {
		t.Errorf("ack = %q", second.Response)
	}

	// The assistant turn carries the generation job in its metadata.
	turns := f.history.AllTurns()
	last := turns[len(turns)-1]
	if last.Metadata["video_generating"] != second.VideoGenerating.JobID {
		t.Errorf("assistant metadata = %+v", last.Metadata)
	}
}

func TestIsFarewell(t *testing.T) {
	yes := []string{"goodbye", "Bye!", "see you", "good night", "ok bye"}
	no := []string{"hello", "tell me a goodbye story", "what is a farewell"}

	for _, msg := range yes {
		if !isFarewell(msg) {
			t.Errorf("isFarewell(%q) = false", msg)
		}
	}
	for _, msg := range no {
		if isFarewell(msg) {
			t.Errorf("isFarewell(%q) = true", msg)
		}
	}
}
