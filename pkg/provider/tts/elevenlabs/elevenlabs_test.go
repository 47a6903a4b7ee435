package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestSynthesize(t *testing.T) {
	wantAudio := []byte("fake-mp3-bytes")

	var gotPath, gotKey string
	var gotBody synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(wantAudio)
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Synthesize(context.Background(), tts.Request{
		Text:         "Hello there.",
		VoiceID:      "voice-1",
		LanguageCode: "en",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotPath != "/v1/text-to-speech/voice-1" {
		t.Errorf("path = %q, want /v1/text-to-speech/voice-1", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("xi-api-key = %q, want test-key", gotKey)
	}
	if gotBody.Text != "Hello there." {
		t.Errorf("request text = %q", gotBody.Text)
	}
	if gotBody.ModelID != defaultModel {
		t.Errorf("model_id = %q, want %q", gotBody.ModelID, defaultModel)
	}
	if gotBody.LanguageCode != "en" {
		t.Errorf("language_code = %q, want en", gotBody.LanguageCode)
	}
	if string(res.Audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", res.Audio, wantAudio)
	}
	if res.Format != defaultOutputFmt {
		t.Errorf("format = %q, want %q", res.Format, defaultOutputFmt)
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", res.Duration)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for empty VoiceID")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{VoiceID: "v1"}); err == nil {
		t.Error("expected error for empty Text")
	}
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"detail": map[string]string{"status": "invalid_api_key", "message": "bad key"},
		})
	}))
	defer srv.Close()

	p, _ := New("wrong-key", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "v1"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path = %q, want /v1/voices", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"voices": []map[string]any{
				{
					"voice_id": "v1",
					"name":     "Alice",
					"category": "premade",
					"labels":   map[string]string{"accent": "british"},
				},
			},
		})
	}))
	defer srv.Close()

	p, _ := New("test-key", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	v := voices[0]
	if v.ID != "v1" || v.Name != "Alice" {
		t.Errorf("voice = %+v", v)
	}
	if v.Labels["accent"] != "british" || v.Labels["category"] != "premade" {
		t.Errorf("labels = %v", v.Labels)
	}
}

func TestEstimateDuration(t *testing.T) {
	// One second of default-bitrate MP3.
	if d := estimateDuration(defaultBytesPerSecond, defaultOutputFmt); d.Seconds() < 0.99 || d.Seconds() > 1.01 {
		t.Errorf("duration = %v, want ~1s", d)
	}
	// PCM 16 kHz mono 16-bit is 32000 bytes per second.
	if d := estimateDuration(32_000, "pcm_16000"); d.Seconds() < 0.99 || d.Seconds() > 1.01 {
		t.Errorf("pcm duration = %v, want ~1s", d)
	}
}
