package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// KokoroTTS is the synchronous request/response TTSProvider behind the
// kokoro provider selector (§6): a self-hosted OpenAI-compatible-shaped
// `/v1/audio/speech` endpoint that returns the complete PCM payload in one
// HTTP response, rather than streaming (§4.6: "implementations include a
// streaming synthesizer and a synchronous request-response synthesizer;
// both must present the same lazy interface").
type KokoroTTS struct {
	baseURL string
	voice   string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewKokoroTTS(baseURL, voice string) *KokoroTTS {
	if voice == "" {
		voice = "af_heart"
	}
	return &KokoroTTS{baseURL: baseURL, voice: voice}
}

type kokoroRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func (k *KokoroTTS) voiceName(voice orchestrator.Voice) string {
	if voice != "" {
		return string(voice)
	}
	return k.voice
}

// Synthesize issues one blocking request and returns the full PCM body.
func (k *KokoroTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancel = cancel
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		if k.cancel != nil {
			k.cancel()
			k.cancel = nil
		}
		k.mu.Unlock()
	}()

	reqBody, err := json.Marshal(kokoroRequest{
		Model:          "kokoro",
		Input:          text,
		Voice:          k.voiceName(voice),
		ResponseFormat: "pcm",
		Speed:          1.0,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/v1/audio/speech", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kokoro: status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// StreamSynthesize presents the same lazy interface as a streaming
// provider by issuing the blocking request and handing the whole body to
// onChunk as a single chunk (§4.6).
func (k *KokoroTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	audio, err := k.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return nil
	}
	return onChunk(audio)
}

func (k *KokoroTTS) Name() string { return "kokoro" }

// Abort cancels the in-flight HTTP request, if any (§4.4 cancellation).
func (k *KokoroTTS) Abort() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	return nil
}
