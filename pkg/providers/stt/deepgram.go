// Package stt collects STTProvider/StreamingSTTProvider implementations.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// DeepgramProvider is both the batch STTProvider and the primary
// StreamingSTTProvider behind the deepgram_pipeline engine variant (§2):
// streaming over a coder/websocket connection to Deepgram's live listen
// endpoint, server-side VAD, interim results, smart formatting.
type DeepgramProvider struct {
	apiKey      string
	batchURL    string
	streamURL   string
	model       string
	sampleRate  int
	utteranceMS int
}

func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:      apiKey,
		batchURL:    "https://api.deepgram.com/v1/listen",
		streamURL:   "wss://api.deepgram.com/v1/listen",
		model:       "nova-2",
		sampleRate:  16000,
		utteranceMS: 1000,
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

// Transcribe is the batch STTProvider path, kept for tool-initiated or
// fixture-driven single-clip transcription (§4.1 "batch mode").
func (p *DeepgramProvider) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	u, err := url.Parse(p.batchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", p.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", orchestrator.ErrEmptyTranscription
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

// Connect opens a live Deepgram session (§4.3): linear PCM16, the configured
// sample rate, interim results on, server-side utterance-end events at
// p.utteranceMS.
func (p *DeepgramProvider) Connect(ctx context.Context, lang orchestrator.Language) (orchestrator.StreamingSTTSession, error) {
	wsURL, err := p.buildStreamURL(lang)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &deepgramSession{
		conn:   conn,
		events: make(chan orchestrator.STTEvent, 64),
		done:   make(chan struct{}),
	}
	go sess.readLoop(ctx)
	return sess, nil
}

func (p *DeepgramProvider) buildStreamURL(lang orchestrator.Language) (string, error) {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("encoding", "linear16")
	q.Set("utterance_end_ms", strconv.Itoa(p.utteranceMS))
	q.Set("vad_events", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramSession struct {
	conn   *websocket.Conn
	events chan orchestrator.STTEvent

	closeOnce sync.Once
	done      chan struct{}
}

func (s *deepgramSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return orchestrator.ErrStreamDrop
	default:
	}
	return s.conn.Write(context.Background(), websocket.MessageBinary, chunk)
}

// Keepalive sends Deepgram's documented application-level keepalive message,
// required during silent stretches so the socket is not reaped (§5).
func (s *deepgramSession) Keepalive() error {
	return s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"KeepAlive"}`))
}

func (s *deepgramSession) Events() <-chan orchestrator.STTEvent { return s.events }

func (s *deepgramSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		err = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return err
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case s.events <- orchestrator.STTEvent{Kind: orchestrator.STTEventError, Reason: orchestrator.Classify(orchestrator.KindStreamDrop, err)}:
			case <-s.done:
			}
			return
		}

		var m deepgramMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}

		var ev orchestrator.STTEvent
		switch m.Type {
		case "Results":
			if len(m.Channel.Alternatives) == 0 {
				continue
			}
			ev = orchestrator.STTEvent{Kind: orchestrator.STTEventText, Value: m.Channel.Alternatives[0].Transcript, IsFinal: m.IsFinal}
		case "SpeechStarted":
			ev = orchestrator.STTEvent{Kind: orchestrator.STTEventSpeechStarted}
		case "UtteranceEnd":
			ev = orchestrator.STTEvent{Kind: orchestrator.STTEventUtteranceEnd}
		default:
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
