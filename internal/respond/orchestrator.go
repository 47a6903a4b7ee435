package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/internal/turncache"
	"github.com/voxgate/voxgate/internal/videointent"
	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// llmBreakerName is the circuit breaker guarding response generation.
const llmBreakerName = "llm"

// defaultHistoryLimit caps how many prior turns enter the prompt.
const defaultHistoryLimit = 10

// responseTokenReserve is the share of the context window kept free for the
// completion when trimming history to budget.
const responseTokenReserve = 1024

// AvatarProfile is the persona configuration a response is generated for.
type AvatarProfile struct {
	// ID is the avatar identifier.
	ID string

	// Name is the display name.
	Name string

	// SystemPrompt is the persona instruction.
	SystemPrompt string

	// VoiceID selects the synthesis voice.
	VoiceID string

	// LanguageCode optionally hints the synthesis language.
	LanguageCode string

	// Namespaces scope knowledge retrieval.
	Namespaces []string

	// VideoEnabled reports whether this avatar may generate videos.
	VideoEnabled bool

	// Greeting is spoken when a session starts.
	Greeting string
}

// Request is one inbound user message.
type Request struct {
	// UserID identifies the user; empty for anonymous conversations.
	UserID string

	// AvatarID selects the persona.
	AvatarID string

	// Message is the user utterance. Required.
	Message string

	// ImageURL optionally attaches an image for vision-capable models.
	ImageURL string

	// Image optionally carries raw image bytes for video generation.
	Image []byte
}

// Reply is the non-streaming response.
type Reply struct {
	// Success reports whether a response was produced.
	Success bool `json:"success"`

	// Message echoes the user utterance.
	Message string `json:"message"`

	// Response is the generated reply text.
	Response string `json:"response"`

	// KnowledgeUsed reports whether knowledge context entered the prompt.
	KnowledgeUsed bool `json:"knowledgeUsed"`

	// MemoryUsed reports whether long-term memory entered the prompt.
	MemoryUsed bool `json:"memoryUsed"`

	// WebUsed reports whether live search results entered the prompt.
	WebUsed bool `json:"webUsed"`

	// VideoPendingConfirmation is set instead of a normal reply when the
	// video machine parked a confirmation.
	VideoPendingConfirmation *VideoPending `json:"videoPendingConfirmation,omitempty"`

	// VideoGenerating is set instead of a normal reply when a video job was
	// submitted.
	VideoGenerating *VideoGenerating `json:"videoGenerating,omitempty"`
}

// Config wires an [Orchestrator].
type Config struct {
	// LLM generates responses. Required.
	LLM llm.Provider

	// TTS synthesizes sentence audio. Required for the streaming path.
	TTS tts.Provider

	// History is the conversation log. Required.
	History memory.HistoryStore

	// Memories is the long-term memory store. Optional.
	Memories memory.MemoryStore

	// Cache is the turn-ahead context cache. Required.
	Cache *turncache.Cache

	// Fetcher performs synchronous retrieval on a cache miss. Required.
	Fetcher *turncache.Fetcher

	// Refresher launches the background refresh after each turn. Optional.
	Refresher *turncache.Refresher

	// Video is the confirmation state machine. Optional.
	Video *videointent.Machine

	// Breakers guards the LLM and TTS collaborators. Optional.
	Breakers *resilience.Registry

	// Metrics records pipeline measurements. Optional.
	Metrics *observe.Metrics

	// Avatar resolves an avatar ID to its profile. Required.
	Avatar func(id string) (*AvatarProfile, bool)

	// SynthConcurrency bounds parallel synthesis calls per response.
	SynthConcurrency int64

	// MaxSentenceLen is the segmenter length ceiling.
	MaxSentenceLen int

	// HistoryLimit caps prior turns in the prompt. Non-positive selects 10.
	HistoryLimit int

	// ThinkingPhrase, when set, is synthesized as a filler clip while the
	// first sentence is still in flight.
	ThinkingPhrase string
}

// Orchestrator drives one conversation turn end to end: video confirmation
// check, context resolution through the turn-ahead cache, breaker-guarded
// generation, sentence segmentation, concurrent synthesis, and persistence.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Orchestrator{cfg: cfg}
}

// Stream runs the streaming pipeline for req and returns the event channel.
//
// The channel is closed after the done event, which is always emitted, even
// after a fatal error. The caller must drain the channel to completion; on
// client disconnect it should keep draining and discard what it cannot
// deliver.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	avatar, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 64)
	go o.run(ctx, req, avatar, events)
	return events, nil
}

// resolve validates req and looks up the avatar profile.
func (o *Orchestrator) resolve(req Request) (*AvatarProfile, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("respond: empty message")
	}
	avatar, ok := o.cfg.Avatar(req.AvatarID)
	if !ok {
		return nil, fmt.Errorf("respond: unknown avatar %q", req.AvatarID)
	}
	return avatar, nil
}

// run is the streaming pipeline body. It owns the events channel.
func (o *Orchestrator) run(ctx context.Context, req Request, avatar *AvatarProfile, events chan<- Event) {
	start := time.Now()
	done := DonePayload{Timings: map[string]int64{}}
	var fillerWg sync.WaitGroup

	defer close(events)
	defer func() {
		done.Timings["total"] = millisSince(start)
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		}
		events <- Event{Kind: EventDone, Payload: done}
	}()
	defer fillerWg.Wait()

	events <- statusEvent("started", "")

	// The confirmation machine owns the turn when engaged.
	if outcome, handled := o.checkVideo(ctx, req, events, &done); handled {
		o.speak(ctx, req, avatar, outcome.Reply, events, &done)
		o.finishTurn(ctx, req, avatar, outcome.Reply, videoMetadata(outcome))
		return
	}

	// Context resolution: cache hit serves immediately, miss retrieves
	// synchronously so the first turn is never degraded.
	contextStart := time.Now()
	key := turncache.Key{UserID: req.UserID, AvatarID: req.AvatarID}
	entry := o.resolveContext(ctx, key, req, avatar)
	done.Timings["context"] = millisSince(contextStart)
	events <- timingEvent("context", done.Timings["context"])

	o.startThinkingFiller(ctx, avatar, events, &fillerWg)

	events <- statusEvent("generating", "")
	seg := NewSegmenter(o.cfg.MaxSentenceLen)
	disp := NewDispatcher(DispatcherConfig{
		TTS:          o.cfg.TTS,
		VoiceID:      avatar.VoiceID,
		LanguageCode: avatar.LanguageCode,
		Breakers:     o.cfg.Breakers,
		Concurrency:  o.cfg.SynthConcurrency,
		Metrics:      o.cfg.Metrics,
		AvatarID:     avatar.ID,
	})

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range disp.Results() {
			// A disconnected client cannot play late audio; completed
			// synthesis results are discarded rather than delivered.
			if ctx.Err() != nil {
				continue
			}
			events <- audioEvent(res)
		}
	}()

	genStart := time.Now()
	var full strings.Builder
	err := o.generate(ctx, req, avatar, entry, seg, disp, &full, events, done.Timings)

	if u := seg.Flush(); u != nil && err == nil && ctx.Err() == nil {
		events <- sentenceEvent(*u)
		disp.Dispatch(ctx, *u)
	}
	disp.Wait()
	<-collected
	done.Timings["generation"] = millisSince(genStart)

	if err != nil {
		if ctx.Err() != nil {
			// Client gone; nothing to report and nothing to persist.
			return
		}
		events <- errorEvent(fatalMessage(err), 0, true)
		return
	}

	done.Response = full.String()
	done.SentenceCount = seg.Count()

	if ctx.Err() != nil {
		return
	}
	o.finishTurn(ctx, req, avatar, done.Response, nil)
}

// checkVideo consults the confirmation machine. handled is true when the
// machine owns this turn.
func (o *Orchestrator) checkVideo(ctx context.Context, req Request, events chan<- Event, done *DonePayload) (*videointent.Outcome, bool) {
	if o.cfg.Video == nil {
		return nil, false
	}

	outcome, err := o.cfg.Video.HandleMessage(ctx, req.UserID, req.AvatarID, req.Message, req.Image)
	if err != nil {
		// The pending slot stays parked; apologise and keep the turn alive.
		observe.Logger(ctx).Warn("video confirmation handling failed",
			"user_id", req.UserID,
			"error", err)
		events <- errorEvent("video generation is unavailable right now", 0, false)
		return &videointent.Outcome{
			Reply: "I couldn't start the video just now. Should I try again in a moment?",
		}, true
	}
	if outcome.Kind == videointent.OutcomeNone {
		return nil, false
	}

	switch outcome.Kind {
	case videointent.OutcomePrompt, videointent.OutcomeRefined:
		done.VideoPendingConfirmation = &VideoPending{Topic: outcome.Topic}
	case videointent.OutcomeGenerating:
		done.VideoGenerating = &VideoGenerating{JobID: outcome.JobID, Topic: outcome.Topic}
	}
	return outcome, true
}

// resolveContext serves the turn's retrieval context from the cache or, on a
// miss, synchronously. Retrieval failure degrades to an empty context rather
// than failing the turn.
func (o *Orchestrator) resolveContext(ctx context.Context, key turncache.Key, req Request, avatar *AvatarProfile) *turncache.TurnContext {
	entry, hit := o.cfg.Cache.Get(key)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordCacheLookup(ctx, hit)
	}
	if hit {
		return entry
	}

	fetchStart := time.Now()
	entry, err := o.cfg.Fetcher.Fetch(ctx, key, req.Message, avatar.Namespaces)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RetrievalDuration.Record(ctx, time.Since(fetchStart).Seconds())
	}
	if err != nil {
		observe.Logger(ctx).Warn("synchronous context retrieval failed",
			"user_id", req.UserID,
			"avatar_id", req.AvatarID,
			"error", err)
		return &turncache.TurnContext{LastQuery: req.Message}
	}
	return entry
}

// generate consumes the LLM token stream through the segmenter, dispatching
// each completed sentence. The whole consumption runs under the "llm"
// breaker so repeated upstream failures short-circuit future turns.
func (o *Orchestrator) generate(ctx context.Context, req Request, avatar *AvatarProfile, entry *turncache.TurnContext,
	seg *Segmenter, disp *Dispatcher, full *strings.Builder, events chan<- Event, timings map[string]int64) error {

	llmReq := o.buildRequest(req, avatar, entry)
	llmStart := time.Now()

	consume := func(genCtx context.Context) error {
		stream, err := o.cfg.LLM.StreamCompletion(genCtx, llmReq)
		if err != nil {
			return err
		}

		firstToken := true
		for chunk := range stream {
			if chunk.FinishReason == "error" {
				return errors.New(chunk.Text)
			}
			if chunk.Text == "" {
				continue
			}
			if firstToken {
				firstToken = false
				timings["first_token"] = millisSince(llmStart)
				events <- timingEvent("first_token", timings["first_token"])
			}

			full.WriteString(chunk.Text)
			events <- textEvent(chunk.Text)

			for _, u := range seg.Feed(chunk.Text) {
				events <- sentenceEvent(u)
				// Dispatch stops once the client disconnects; text already
				// buffered keeps flowing so the transcript stays complete.
				if ctx.Err() == nil {
					disp.Dispatch(ctx, u)
				}
			}
		}
		return genCtx.Err()
	}

	var err error
	if o.cfg.Breakers != nil {
		// A client disconnect is not an upstream failure; report it as
		// success to the breaker and surface the cancellation separately.
		err = o.cfg.Breakers.Do(ctx, llmBreakerName, func(genCtx context.Context) error {
			if cErr := consume(genCtx); cErr != nil && ctx.Err() == nil {
				return cErr
			}
			return nil
		})
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
	} else {
		err = consume(ctx)
	}

	if o.cfg.Metrics != nil && err == nil {
		o.cfg.Metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}
	return err
}

// speak runs a fixed utterance through the segmenter and dispatcher so video
// confirmations reach the client as text and audio like any other reply.
func (o *Orchestrator) speak(ctx context.Context, req Request, avatar *AvatarProfile, text string, events chan<- Event, done *DonePayload) {
	seg := NewSegmenter(o.cfg.MaxSentenceLen)
	disp := NewDispatcher(DispatcherConfig{
		TTS:          o.cfg.TTS,
		VoiceID:      avatar.VoiceID,
		LanguageCode: avatar.LanguageCode,
		Breakers:     o.cfg.Breakers,
		Concurrency:  o.cfg.SynthConcurrency,
		Metrics:      o.cfg.Metrics,
		AvatarID:     avatar.ID,
	})

	events <- textEvent(text)
	units := seg.Feed(text)
	if u := seg.Flush(); u != nil {
		units = append(units, *u)
	}
	for _, u := range units {
		events <- sentenceEvent(u)
		if ctx.Err() == nil {
			disp.Dispatch(ctx, u)
		}
	}

	go disp.Wait()
	for res := range disp.Results() {
		if ctx.Err() != nil {
			continue
		}
		events <- audioEvent(res)
	}

	done.Response = text
	done.SentenceCount = len(units)
}

// startThinkingFiller synthesizes the short filler clip concurrently with
// generation so the user hears something while the first sentence is still
// in flight.
func (o *Orchestrator) startThinkingFiller(ctx context.Context, avatar *AvatarProfile, events chan<- Event, wg *sync.WaitGroup) {
	phrase := o.cfg.ThinkingPhrase
	if phrase == "" || o.cfg.TTS == nil {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := o.cfg.TTS.Synthesize(context.WithoutCancel(ctx), tts.Request{
			Text:         phrase,
			VoiceID:      avatar.VoiceID,
			LanguageCode: avatar.LanguageCode,
		})
		if err != nil {
			observe.Logger(ctx).Debug("thinking filler synthesis failed", "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		events <- Event{Kind: EventAudio, Payload: AudioPayload{
			Content:         encodeAudio(res.Audio),
			Type:            AudioTypeThinking,
			Text:            phrase,
			Format:          res.Format,
			SynthesisMillis: res.Duration.Milliseconds(),
		}}
	}()
}

// finishTurn persists the exchange and launches the background cache refresh.
// The user turn is always written before the assistant turn. Failures here
// are logged only; the response has already been delivered.
func (o *Orchestrator) finishTurn(ctx context.Context, req Request, avatar *AvatarProfile, response string, assistantMeta map[string]string) {
	bgCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()

	userMeta := map[string]string(nil)
	if isFarewell(req.Message) {
		userMeta = map[string]string{"farewell": "true"}
	}

	if err := o.cfg.History.AppendTurn(bgCtx, memory.Turn{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		AvatarID:  req.AvatarID,
		Role:      memory.RoleUser,
		Text:      req.Message,
		Metadata:  userMeta,
		CreatedAt: now,
	}); err != nil {
		observe.Logger(ctx).Error("persist user turn failed", "user_id", req.UserID, "error", err)
		return
	}

	if response != "" {
		if err := o.cfg.History.AppendTurn(bgCtx, memory.Turn{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			AvatarID:  req.AvatarID,
			Role:      memory.RoleAssistant,
			Text:      response,
			Metadata:  assistantMeta,
			CreatedAt: now.Add(time.Millisecond),
		}); err != nil {
			observe.Logger(ctx).Error("persist assistant turn failed", "user_id", req.UserID, "error", err)
		}
	}

	if o.cfg.Memories != nil && req.UserID != "" {
		go func() {
			if _, err := o.cfg.Memories.Add(bgCtx, req.UserID, req.Message); err != nil {
				observe.Logger(bgCtx).Warn("memory store failed", "user_id", req.UserID, "error", err)
			}
		}()
	}

	if o.cfg.Refresher != nil {
		key := turncache.Key{UserID: req.UserID, AvatarID: req.AvatarID}
		o.cfg.Refresher.RefreshAsync(ctx, key, req.Message, avatar.Namespaces)
	}
}

// Respond runs the non-streaming pipeline for req.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (*Reply, error) {
	avatar, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Message: req.Message}

	if o.cfg.Video != nil {
		outcome, err := o.cfg.Video.HandleMessage(ctx, req.UserID, req.AvatarID, req.Message, req.Image)
		if err != nil {
			return nil, err
		}
		if outcome.Kind != videointent.OutcomeNone {
			reply.Success = true
			reply.Response = outcome.Reply
			switch outcome.Kind {
			case videointent.OutcomePrompt, videointent.OutcomeRefined:
				reply.VideoPendingConfirmation = &VideoPending{Topic: outcome.Topic}
			case videointent.OutcomeGenerating:
				reply.VideoGenerating = &VideoGenerating{JobID: outcome.JobID, Topic: outcome.Topic}
			}
			o.finishTurn(ctx, req, avatar, outcome.Reply, videoMetadata(outcome))
			return reply, nil
		}
	}

	key := turncache.Key{UserID: req.UserID, AvatarID: req.AvatarID}
	entry := o.resolveContext(ctx, key, req, avatar)

	llmReq := o.buildRequest(req, avatar, entry)
	var resp *llm.CompletionResponse
	complete := func(c context.Context) error {
		var cErr error
		resp, cErr = o.cfg.LLM.Complete(c, llmReq)
		return cErr
	}
	if o.cfg.Breakers != nil {
		err = o.cfg.Breakers.Do(ctx, llmBreakerName, complete)
	} else {
		err = complete(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("respond: generate: %w", err)
	}

	reply.Success = true
	reply.Response = resp.Content
	reply.KnowledgeUsed = entry.Knowledge != ""
	reply.MemoryUsed = entry.Memory != ""
	reply.WebUsed = entry.WebResults != ""

	o.finishTurn(ctx, req, avatar, resp.Content, nil)
	return reply, nil
}

// buildRequest assembles the completion request: persona instruction plus
// retrieval context as the system prompt, trimmed history, then the message.
func (o *Orchestrator) buildRequest(req Request, avatar *AvatarProfile, entry *turncache.TurnContext) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString(avatar.SystemPrompt)
	if entry.Knowledge != "" {
		sys.WriteString("\n\nRelevant knowledge:\n")
		sys.WriteString(entry.Knowledge)
	}
	if entry.Memory != "" {
		sys.WriteString("\n\nWhat you remember about this user:\n")
		sys.WriteString(entry.Memory)
	}
	if entry.WebResults != "" {
		sys.WriteString("\n\nCurrent information from the web:\n")
		sys.WriteString(entry.WebResults)
	}

	history := entry.History
	if len(history) > o.cfg.HistoryLimit {
		history = history[len(history)-o.cfg.HistoryLimit:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})
	messages = o.trimToBudget(messages)

	return llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: sys.String(),
		ImageURL:     req.ImageURL,
	}
}

// trimToBudget drops the oldest history entries until the prompt fits the
// model's context window with room reserved for the completion.
func (o *Orchestrator) trimToBudget(messages []llm.Message) []llm.Message {
	window := o.cfg.LLM.Capabilities().ContextWindow
	if window <= 0 {
		return messages
	}
	budget := window - responseTokenReserve

	for len(messages) > 1 {
		count, err := o.cfg.LLM.CountTokens(messages)
		if err != nil || count <= budget {
			return messages
		}
		messages = messages[1:]
	}
	return messages
}

// ─── helpers ────────────────────────────────────────────────────────────────

func audioEvent(res SynthesisResult) Event {
	if res.Err != nil {
		return errorEvent(res.Err.Error(), res.Index, false)
	}
	return Event{Kind: EventAudio, Payload: AudioPayload{
		Content:         encodeAudio(res.Audio),
		Type:            AudioTypeSentence,
		Text:            strings.TrimSpace(res.Text),
		Index:           res.Index,
		Format:          res.Format,
		IsFinal:         res.Final,
		SynthesisMillis: res.Duration.Milliseconds(),
	}}
}

func videoMetadata(outcome *videointent.Outcome) map[string]string {
	if outcome.Kind != videointent.OutcomeGenerating || outcome.JobID == "" {
		return nil
	}
	return map[string]string{"video_generating": outcome.JobID}
}

func fatalMessage(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "the response service is temporarily unavailable"
	}
	return err.Error()
}

// farewellPhrases close a conversation; matching turns carry farewell
// metadata so session cleanup can key off them.
var farewellPhrases = []string{
	"bye", "goodbye", "good bye", "see you", "good night", "talk later",
	"talk to you later", "farewell",
}

func isFarewell(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.Trim(msg, ".,!?")
	for _, p := range farewellPhrases {
		if msg == p || strings.HasPrefix(msg, p+" ") || strings.HasSuffix(msg, " "+p) {
			return true
		}
	}
	return false
}

func millisSince(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}
