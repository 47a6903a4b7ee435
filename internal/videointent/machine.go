package videointent

import (
	"context"
	"fmt"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/provider/video"
)

// breakerName is the circuit breaker guarding the video collaborator.
const breakerName = "video"

// OutcomeKind identifies what the state machine decided for this turn.
type OutcomeKind int

const (
	// OutcomeNone means the machine is not engaged; normal response
	// generation proceeds.
	OutcomeNone OutcomeKind = iota

	// OutcomePrompt means a new pending confirmation was parked and the
	// reply asks the user to confirm.
	OutcomePrompt

	// OutcomeGenerating means the user confirmed and a generation job was
	// submitted.
	OutcomeGenerating

	// OutcomeRejected means the user cancelled the pending request.
	OutcomeRejected

	// OutcomeDeclined means the active avatar has video generation disabled.
	OutcomeDeclined

	// OutcomeRefined means the topic was updated and the user is re-prompted.
	OutcomeRefined
)

// String returns the metric label for the outcome.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomePrompt:
		return "prompt"
	case OutcomeGenerating:
		return "generating"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeclined:
		return "declined"
	case OutcomeRefined:
		return "refined"
	default:
		return "unknown"
	}
}

// Outcome is the machine's decision for one message.
type Outcome struct {
	// Kind identifies the decision.
	Kind OutcomeKind

	// Reply is the utterance to speak for every kind except OutcomeNone.
	Reply string

	// Topic is the video topic in effect, set for every engaged kind.
	Topic string

	// JobID is the generation job identifier, set for OutcomeGenerating.
	JobID string
}

// Config wires a [Machine].
type Config struct {
	// Store parks pending confirmations.
	Store *Store

	// Classifier performs intent detection, reply classification, and topic
	// refinement.
	Classifier *Classifier

	// Video is the generation collaborator.
	Video video.Provider

	// Breakers guards the Video calls. Optional; nil calls directly.
	Breakers *resilience.Registry

	// VideoEnabled reports whether the avatar may generate videos. Nil
	// means enabled for all avatars.
	VideoEnabled func(avatarID string) bool

	// Metrics records outcomes. Optional.
	Metrics *observe.Metrics
}

// Machine is the per-user video confirmation state machine.
type Machine struct {
	store        *Store
	classifier   *Classifier
	video        video.Provider
	breakers     *resilience.Registry
	videoEnabled func(avatarID string) bool
	metrics      *observe.Metrics
}

// NewMachine creates a Machine from cfg. Store, Classifier, and Video are
// required.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		store:        cfg.Store,
		classifier:   cfg.Classifier,
		video:        cfg.Video,
		breakers:     cfg.Breakers,
		videoEnabled: cfg.VideoEnabled,
		metrics:      cfg.Metrics,
	}
}

// HandleMessage runs the state machine for one inbound message. It must be
// consulted before normal response generation: an engaged machine owns the
// turn. An [OutcomeNone] result hands the turn back to the orchestrator.
//
// Classifier failures on the intent-detection path degrade to OutcomeNone so
// a broken classifier cannot block normal conversation.
func (m *Machine) HandleMessage(ctx context.Context, userID, avatarID, message string, image []byte) (*Outcome, error) {
	pending, engaged := m.store.Get(userID)
	if engaged {
		out, err := m.handlePendingReply(ctx, userID, pending, message)
		if err != nil {
			return nil, err
		}
		m.recordOutcome(ctx, out.Kind)
		return out, nil
	}

	intent, err := m.classifier.DetectIntent(ctx, message)
	if err != nil {
		observe.Logger(ctx).Warn("video intent detection failed, continuing without",
			"user_id", userID,
			"error", err)
		return &Outcome{Kind: OutcomeNone}, nil
	}
	if !intent.IsVideoRequest || intent.Confidence < m.classifier.Threshold() {
		return &Outcome{Kind: OutcomeNone}, nil
	}

	m.store.Put(userID, Pending{
		Topic:        intent.Topic,
		OriginalText: message,
		AvatarID:     avatarID,
		Image:        image,
	})

	out := &Outcome{
		Kind:  OutcomePrompt,
		Topic: intent.Topic,
		Reply: fmt.Sprintf("I can make a video about %s. Should I go ahead?", intent.Topic),
	}
	m.recordOutcome(ctx, out.Kind)
	return out, nil
}

// handlePendingReply interprets message against the parked confirmation.
func (m *Machine) handlePendingReply(ctx context.Context, userID string, pending *Pending, message string) (*Outcome, error) {
	switch m.classifier.ClassifyReply(message) {
	case ReplyAffirm:
		return m.confirm(ctx, userID, pending)

	case ReplyReject:
		m.store.Clear(userID)
		return &Outcome{
			Kind:  OutcomeRejected,
			Topic: pending.Topic,
			Reply: "No problem, I won't make the video. What else can I help with?",
		}, nil

	default:
		topic, err := m.classifier.RefineTopic(ctx, pending.Topic, message)
		if err != nil {
			return nil, err
		}
		m.store.UpdateTopic(userID, topic)
		return &Outcome{
			Kind:  OutcomeRefined,
			Topic: topic,
			Reply: fmt.Sprintf("Got it, a video about %s. Should I go ahead?", topic),
		}, nil
	}
}

// confirm runs the confirmed path: guard the avatar, then submit the job.
func (m *Machine) confirm(ctx context.Context, userID string, pending *Pending) (*Outcome, error) {
	// Disabled avatars decline without touching the collaborator.
	if m.videoEnabled != nil && !m.videoEnabled(pending.AvatarID) {
		m.store.Clear(userID)
		return &Outcome{
			Kind:  OutcomeDeclined,
			Topic: pending.Topic,
			Reply: "I'm sorry, video generation isn't available with this avatar.",
		}, nil
	}

	var job *video.Job
	call := func(callCtx context.Context) error {
		var err error
		job, err = m.video.Generate(callCtx, video.Request{
			Topic:    pending.Topic,
			AvatarID: pending.AvatarID,
			Image:    pending.Image,
		})
		return err
	}

	var err error
	if m.breakers != nil {
		err = m.breakers.Do(ctx, breakerName, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		// The slot stays parked so the user can retry once the service
		// recovers.
		return nil, fmt.Errorf("video intent: generate: %w", err)
	}

	m.store.Clear(userID)
	return &Outcome{
		Kind:  OutcomeGenerating,
		Topic: pending.Topic,
		JobID: job.ID,
		Reply: fmt.Sprintf("Your video about %s is being generated. I'll have it ready shortly.", pending.Topic),
	}, nil
}

// recordOutcome feeds the outcome counter when metrics are wired.
func (m *Machine) recordOutcome(ctx context.Context, kind OutcomeKind) {
	if m.metrics != nil {
		m.metrics.RecordVideoOutcome(ctx, kind.String())
	}
}
