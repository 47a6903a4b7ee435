// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, Google
// Cloud TTS, or a local Piper instance) behind a unary request/response
// contract: one sentence in, one audio clip out. The response pipeline calls
// Synthesize once per sentence unit, concurrently, so implementations must be
// safe for concurrent use and should tolerate several in-flight requests.
package tts

import (
	"context"
	"time"
)

// Request describes a single synthesis call.
type Request struct {
	// Text is the sentence to synthesise. Must be non-empty.
	Text string

	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// LanguageCode optionally hints the language (e.g., "en", "de"). Providers
	// that auto-detect may ignore it.
	LanguageCode string
}

// Result is the outcome of a successful synthesis call.
type Result struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// Format identifies the audio encoding (e.g., "mp3_44100_128", "pcm_16000").
	Format string

	// Duration is how long the synthesis call took, not the audio length.
	Duration time.Duration
}

// Voice describes a voice available from a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Labels holds provider-specific attributes (gender, age, accent, ...).
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; the dispatcher issues
// multiple Synthesize calls in parallel for a single response.
type Provider interface {
	// Synthesize converts req.Text into audio. Returns an error if the request
	// fails, the voice is unknown, or ctx is cancelled before the audio is
	// available. Implementations should not retry internally; retry and
	// failure-isolation policy belongs to the caller.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls.
	ListVoices(ctx context.Context) ([]Voice, error)
}
