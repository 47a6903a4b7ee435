// Package video defines the Provider interface for avatar video generation
// backends.
//
// Video generation is a long-running asynchronous operation: Generate submits
// a request and returns a job handle immediately; the job completes minutes
// later and is observed via JobStatus. The confirmation state machine is the
// only caller; a video is never generated without an explicit user confirm.
package video

import "context"

// Job states reported by JobStatus. Providers map their native states onto
// these values.
const (
	StatusQueued    = "queued"
	StatusRendering = "rendering"
	StatusReady     = "ready"
	StatusFailed    = "failed"
)

// Request describes a video generation job.
type Request struct {
	// Topic is the confirmed subject of the video.
	Topic string

	// Script optionally carries a full narration script. When empty the
	// provider generates one from Topic.
	Script string

	// AvatarID selects the visual persona presenting the video.
	AvatarID string

	// Image optionally attaches a reference image supplied by the user.
	Image []byte
}

// Job is a handle to a submitted generation job.
type Job struct {
	// ID is the provider-assigned job identifier.
	ID string

	// Status is one of the Status* constants.
	Status string

	// VideoURL is the download URL, populated once Status is StatusReady.
	VideoURL string
}

// Provider is the abstraction over any video generation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Generate submits a job and returns its handle without waiting for the
	// render to finish.
	Generate(ctx context.Context, req Request) (*Job, error)

	// JobStatus returns the current state of a previously submitted job.
	JobStatus(ctx context.Context, id string) (*Job, error)
}
