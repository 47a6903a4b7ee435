// Package mock provides a test double for the video.Provider interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/video"
)

// Ensure Provider implements video.Provider at compile time.
var _ video.Provider = (*Provider)(nil)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req video.Request
}

// Provider is a mock implementation of video.Provider. Submitted jobs are
// tracked in memory; tests advance them with SetJobStatus.
type Provider struct {
	mu sync.Mutex

	// GenerateErr, if non-nil, is returned by Generate.
	GenerateErr error

	// JobStatusErr, if non-nil, is returned by JobStatus.
	JobStatusErr error

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall

	jobs   map[string]*video.Job
	nextID int
}

// Generate records the call and registers a queued job with a generated ID.
func (p *Provider) Generate(ctx context.Context, req video.Request) (*video.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	p.nextID++
	job := &video.Job{
		ID:     fmt.Sprintf("job-%d", p.nextID),
		Status: video.StatusQueued,
	}
	if p.jobs == nil {
		p.jobs = map[string]*video.Job{}
	}
	p.jobs[job.ID] = job
	out := *job
	return &out, nil
}

// JobStatus returns the tracked state of a submitted job.
func (p *Provider) JobStatus(_ context.Context, id string) (*video.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.JobStatusErr != nil {
		return nil, p.JobStatusErr
	}
	job, ok := p.jobs[id]
	if !ok {
		return nil, fmt.Errorf("mock video: unknown job %q", id)
	}
	out := *job
	return &out, nil
}

// SetJobStatus advances a tracked job, for driving status transitions in tests.
func (p *Provider) SetJobStatus(id, status, videoURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[id]; ok {
		job.Status = status
		job.VideoURL = videoURL
	}
}

// Calls returns a copy of the recorded Generate invocations.
func (p *Provider) Calls() []GenerateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]GenerateCall, len(p.GenerateCalls))
	copy(out, p.GenerateCalls)
	return out
}
