// Package respond implements the real-time response pipeline: sentence
// segmentation of the LLM token stream, concurrent speech synthesis with
// indexed delivery, and the orchestrator that drives a full conversation
// turn.
package respond

import (
	"encoding/base64"
	"encoding/json"
)

// EventKind identifies a server-push event on the response stream.
type EventKind string

const (
	// EventStatus reports a pipeline phase change.
	EventStatus EventKind = "status"

	// EventTiming reports a named duration measurement.
	EventTiming EventKind = "timing"

	// EventText carries one raw token fragment as it arrives from the LLM.
	EventText EventKind = "text"

	// EventSentence announces a completed sentence unit, in index order.
	EventSentence EventKind = "sentence"

	// EventAudio delivers one synthesized clip. Audio events may arrive out
	// of index order; the client reorders by index before playback.
	EventAudio EventKind = "audio"

	// EventError reports a failure. Non-fatal errors carry the index of the
	// affected sentence; fatal errors end the response.
	EventError EventKind = "error"

	// EventDone closes the stream. Always emitted exactly once, even after a
	// fatal error.
	EventDone EventKind = "done"
)

// Audio event types.
const (
	// AudioTypeSentence is a synthesized sentence unit.
	AudioTypeSentence = "sentence"

	// AudioTypeThinking is the short filler clip played while the first
	// sentence is still being synthesized.
	AudioTypeThinking = "thinking"
)

// Event is one record on the server-push stream. Kind selects which payload
// field is set.
type Event struct {
	Kind    EventKind
	Payload any
}

// StatusPayload reports a pipeline phase.
type StatusPayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// TimingPayload reports one named duration in milliseconds.
type TimingPayload struct {
	Name   string `json:"name"`
	Millis int64  `json:"ms"`
}

// TextPayload carries a raw token fragment.
type TextPayload struct {
	Text string `json:"text"`
}

// SentencePayload announces a completed sentence unit.
type SentencePayload struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
}

// AudioPayload delivers one synthesized clip.
type AudioPayload struct {
	// Content is the base64-encoded audio payload.
	Content string `json:"content"`

	// Type is AudioTypeSentence or AudioTypeThinking.
	Type string `json:"type"`

	// Text is the sentence the clip was synthesized from.
	Text string `json:"text"`

	// Index is the sentence index; zero for thinking clips.
	Index int `json:"index"`

	// Format identifies the audio encoding.
	Format string `json:"format"`

	// IsFinal marks the clip for the last sentence of the response.
	IsFinal bool `json:"isFinal"`

	// SynthesisMillis is how long the synthesis call took.
	SynthesisMillis int64 `json:"synthesisMs"`
}

// ErrorPayload reports a failure on the stream.
type ErrorPayload struct {
	Message string `json:"message"`

	// Index is the affected sentence for per-unit failures; zero for fatal
	// stream failures.
	Index int `json:"index,omitempty"`

	// Fatal marks errors that end the response. The done event still follows.
	Fatal bool `json:"fatal"`
}

// DonePayload closes the stream with the assembled response.
type DonePayload struct {
	// Response is the full reply text, empty after a fatal error.
	Response string `json:"response"`

	// SentenceCount is the number of sentence units dispatched.
	SentenceCount int `json:"sentenceCount"`

	// Timings is the performance breakdown in milliseconds by phase name.
	Timings map[string]int64 `json:"timings,omitempty"`

	// VideoPendingConfirmation is set when the video machine parked a
	// confirmation this turn.
	VideoPendingConfirmation *VideoPending `json:"videoPendingConfirmation,omitempty"`

	// VideoGenerating is set when the video machine submitted a job.
	VideoGenerating *VideoGenerating `json:"videoGenerating,omitempty"`
}

// VideoPending describes a parked video confirmation.
type VideoPending struct {
	Topic string `json:"topic"`
}

// VideoGenerating describes a submitted video generation job.
type VideoGenerating struct {
	JobID string `json:"jobId"`
	Topic string `json:"topic"`
}

// MarshalData renders the event payload as JSON for the SSE and WebSocket
// transports.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// ─── constructors ───────────────────────────────────────────────────────────

func statusEvent(phase, message string) Event {
	return Event{Kind: EventStatus, Payload: StatusPayload{Phase: phase, Message: message}}
}

func timingEvent(name string, millis int64) Event {
	return Event{Kind: EventTiming, Payload: TimingPayload{Name: name, Millis: millis}}
}

func textEvent(text string) Event {
	return Event{Kind: EventText, Payload: TextPayload{Text: text}}
}

func sentenceEvent(u SentenceUnit) Event {
	return Event{Kind: EventSentence, Payload: SentencePayload{Content: u.Text, Index: u.Index}}
}

func errorEvent(message string, index int, fatal bool) Event {
	return Event{Kind: EventError, Payload: ErrorPayload{Message: message, Index: index, Fatal: fatal}}
}

// encodeAudio renders audio bytes for the JSON transports.
func encodeAudio(audio []byte) string {
	return base64.StdEncoding.EncodeToString(audio)
}
