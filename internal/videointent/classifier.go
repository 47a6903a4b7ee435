package videointent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// defaultConfidenceThreshold is the minimum classifier confidence that
// engages the state machine.
const defaultConfidenceThreshold = 0.7

// fuzzyReplyThreshold is the minimum Jaro-Winkler similarity for a word to
// count as a garbled affirmation or rejection. Voice transcripts routinely
// mangle short words ("yes" → "yess", "yeah" → "yeeah").
const fuzzyReplyThreshold = 0.88

// ReplyKind classifies the user's reply to a pending confirmation.
type ReplyKind int

const (
	// ReplyOther is neither an affirmation nor a rejection, so the machine
	// treats it as topic refinement.
	ReplyOther ReplyKind = iota

	// ReplyAffirm confirms the pending video request.
	ReplyAffirm

	// ReplyReject cancels the pending video request.
	ReplyReject
)

// affirmations and rejections are matched per word, exactly first and then
// fuzzily via Jaro-Winkler.
var (
	affirmations = []string{
		"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm",
		"go", "do", "please", "definitely", "absolutely", "correct",
	}
	rejections = []string{
		"no", "nope", "nah", "cancel", "stop", "don't", "dont", "never",
		"forget", "nevermind", "skip",
	}
)

// Intent is the result of video intent detection on a free-form message.
type Intent struct {
	// IsVideoRequest reports whether the message asks for a video.
	IsVideoRequest bool `json:"is_video_request"`

	// Topic is the extracted subject, empty when IsVideoRequest is false.
	Topic string `json:"topic"`

	// Confidence is the classifier's self-reported confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Classifier wraps the LLM calls and lexical matching the state machine
// needs: intent detection, reply classification, and topic refinement.
type Classifier struct {
	llm       llm.Provider
	threshold float64
}

// NewClassifier creates a Classifier. A non-positive threshold selects the
// 0.7 default.
func NewClassifier(provider llm.Provider, threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	return &Classifier{llm: provider, threshold: threshold}
}

// Threshold returns the confidence threshold in effect.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

const intentSystemPrompt = `You classify whether a user message is a request to produce a video.
Respond with ONLY a JSON object, no prose:
{"is_video_request": true|false, "topic": "<subject of the requested video, empty if none>", "confidence": <0.0-1.0>}`

// DetectIntent asks the LLM whether message requests a video and extracts
// the topic. The returned Intent is never nil on success.
func (c *Classifier) DetectIntent(ctx context.Context, message string) (*Intent, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: intentSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: message}},
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return nil, fmt.Errorf("video intent: detect: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &intent); err != nil {
		return nil, fmt.Errorf("video intent: parse classifier output %q: %w", resp.Content, err)
	}
	return &intent, nil
}

// ClassifyReply judges whether message affirms or rejects a pending
// confirmation. Rejections are checked before affirmations so "no thanks"
// does not read as an affirmation via "thanks". No LLM call is made; replies
// to a yes/no prompt are short and lexical matching is robust enough.
func (c *Classifier) ClassifyReply(message string) ReplyKind {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(message)))
	if len(words) == 0 {
		return ReplyOther
	}

	// Long replies carry new information; treat them as refinement even when
	// they contain a stray "yes".
	if len(words) > 4 {
		return ReplyOther
	}

	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		if matchesAny(w, rejections) {
			return ReplyReject
		}
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		if matchesAny(w, affirmations) {
			return ReplyAffirm
		}
	}
	return ReplyOther
}

// matchesAny reports whether word matches a vocabulary entry exactly or
// within the fuzzy threshold.
func matchesAny(word string, vocab []string) bool {
	for _, v := range vocab {
		if word == v {
			return true
		}
	}
	// Fuzzy pass for transcription noise. Single-character words are too
	// ambiguous to fuzz.
	if len(word) < 2 {
		return false
	}
	for _, v := range vocab {
		if matchr.JaroWinkler(word, v, false) >= fuzzyReplyThreshold {
			return true
		}
	}
	return false
}

const refineSystemPrompt = `A user asked for a video about "%s" and has now said: "%s".
Decide whether the new message EXTENDS the existing topic or REPLACES it.
Respond with ONLY a JSON object, no prose:
{"topic": "<the updated video topic>"}`

// RefineTopic merges or replaces the stored topic given the user's latest
// message. On an unusable LLM answer the current topic is kept.
func (c *Classifier) RefineTopic(ctx context.Context, currentTopic, message string) (string, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(refineSystemPrompt, currentTopic, message),
		Messages:     []llm.Message{{Role: "user", Content: message}},
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return "", fmt.Errorf("video intent: refine topic: %w", err)
	}

	var out struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil || out.Topic == "" {
		return currentTopic, nil
	}
	return out.Topic, nil
}

// extractJSON trims any prose the model wrapped around the JSON object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
