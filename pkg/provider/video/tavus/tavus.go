// Package tavus provides a video generation provider backed by the Tavus
// replica video API.
package tavus

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/pkg/provider/video"
)

const defaultBaseURL = "https://tavusapi.com"

// Ensure Provider implements video.Provider at compile time.
var _ video.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Tavus Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Intended for tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements video.Provider backed by the Tavus HTTP API.
//
// AvatarID in a [video.Request] maps to a Tavus replica ID. Jobs render
// asynchronously on Tavus infrastructure; poll with JobStatus.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Tavus Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("tavus: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// generateRequest is the JSON body for POST /v2/videos.
type generateRequest struct {
	ReplicaID       string `json:"replica_id"`
	Script          string `json:"script"`
	VideoName       string `json:"video_name,omitempty"`
	BackgroundImage string `json:"background_source_url,omitempty"`
}

// videoResponse is the JSON envelope for video objects.
type videoResponse struct {
	VideoID     string `json:"video_id"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	HostedURL   string `json:"hosted_url"`
}

// Generate implements video.Provider. It submits the job and returns
// immediately with the provider-assigned ID.
func (p *Provider) Generate(ctx context.Context, req video.Request) (*video.Job, error) {
	if req.AvatarID == "" {
		return nil, errors.New("tavus: AvatarID must not be empty")
	}
	script := req.Script
	if script == "" {
		script = req.Topic
	}
	if script == "" {
		return nil, errors.New("tavus: Topic or Script must be set")
	}

	body := generateRequest{
		ReplicaID: req.AvatarID,
		Script:    script,
		VideoName: req.Topic,
	}
	if len(req.Image) > 0 {
		body.BackgroundImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tavus: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/videos", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavus: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavus: generate HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavus: generate: unexpected status %d: %s", resp.StatusCode, data)
	}

	var vr videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("tavus: generate decode: %w", err)
	}
	if vr.VideoID == "" {
		return nil, errors.New("tavus: generate: response missing video_id")
	}
	return toJob(vr), nil
}

// JobStatus implements video.Provider.
func (p *Provider) JobStatus(ctx context.Context, id string) (*video.Job, error) {
	if id == "" {
		return nil, errors.New("tavus: id must not be empty")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/videos/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("tavus: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavus: job status HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavus: job status: unexpected status %d", resp.StatusCode)
	}

	var vr videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("tavus: job status decode: %w", err)
	}
	return toJob(vr), nil
}

// toJob maps a Tavus video object onto the provider-neutral Job, normalising
// the native status values.
func toJob(vr videoResponse) *video.Job {
	job := &video.Job{ID: vr.VideoID}

	switch vr.Status {
	case "queued":
		job.Status = video.StatusQueued
	case "generating", "rendering":
		job.Status = video.StatusRendering
	case "ready", "completed":
		job.Status = video.StatusReady
	case "error", "failed", "deleted":
		job.Status = video.StatusFailed
	default:
		job.Status = video.StatusQueued
	}

	if job.Status == video.StatusReady {
		job.VideoURL = vr.DownloadURL
		if job.VideoURL == "" {
			job.VideoURL = vr.HostedURL
		}
	}
	return job
}
