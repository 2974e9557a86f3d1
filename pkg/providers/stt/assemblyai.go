package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// AssemblyAISTT is both the batch STTProvider (HTTP upload/poll) and the
// StreamingSTTProvider behind the realtime v2 websocket API, demonstrating
// the engine's STT-adapter abstraction is transport-agnostic: this provider
// uses gorilla/websocket where DeepgramProvider uses coder/websocket, and
// both satisfy the same orchestrator.StreamingSTTProvider interface.
type AssemblyAISTT struct {
	apiKey     string
	streamURL  string
	sampleRate int
}

func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{
		apiKey:     apiKey,
		streamURL:  "wss://api.assemblyai.com/v2/realtime/ws",
		sampleRate: 16000,
	}
}

func (s *AssemblyAISTT) Name() string {
	return "assemblyai-stt"
}

// Connect opens a realtime v2 session (§4.3). AssemblyAI's realtime API has
// no server-side "smart formatting" or VAD-event toggle distinct from
// Deepgram's; partial/final transcripts arrive as message_type
// PartialTranscript/FinalTranscript and there is no explicit utterance_end
// signal, so this adapter synthesizes one on every FinalTranscript (the
// Turn Controller's local silence timer remains the backstop endpointer
// either way, per §4.4).
func (s *AssemblyAISTT) Connect(ctx context.Context, lang orchestrator.Language) (orchestrator.StreamingSTTSession, error) {
	u, err := url.Parse(s.streamURL)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", s.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &assemblyAISession{
		conn:   conn,
		events: make(chan orchestrator.STTEvent, 64),
		done:   make(chan struct{}),
	}
	go sess.readLoop()
	return sess, nil
}

type assemblyAIAudioFrame struct {
	AudioData string `json:"audio_data"`
}

type assemblyAIServerMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

type assemblyAISession struct {
	conn   *websocket.Conn
	events chan orchestrator.STTEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (sess *assemblyAISession) SendAudio(chunk []byte) error {
	select {
	case <-sess.done:
		return orchestrator.ErrStreamDrop
	default:
	}
	frame := assemblyAIAudioFrame{AudioData: base64.StdEncoding.EncodeToString(chunk)}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteJSON(frame)
}

// Keepalive sends a zero-length audio frame; AssemblyAI's realtime API has
// no dedicated ping message, so an empty audio_data payload (ignored by the
// recognizer) serves the same idle-keepalive purpose as Deepgram's
// KeepAlive control message (§5).
func (sess *assemblyAISession) Keepalive() error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteJSON(assemblyAIAudioFrame{AudioData: ""})
}

func (sess *assemblyAISession) Events() <-chan orchestrator.STTEvent { return sess.events }

func (sess *assemblyAISession) Close() error {
	var err error
	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.writeMu.Lock()
		_ = sess.conn.WriteJSON(map[string]bool{"terminate_session": true})
		sess.writeMu.Unlock()
		err = sess.conn.Close()
	})
	return err
}

func (sess *assemblyAISession) readLoop() {
	defer close(sess.events)
	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case sess.events <- orchestrator.STTEvent{Kind: orchestrator.STTEventError, Reason: orchestrator.Classify(orchestrator.KindStreamDrop, err)}:
			case <-sess.done:
			}
			return
		}

		var m assemblyAIServerMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}

		var ev orchestrator.STTEvent
		switch m.MessageType {
		case "PartialTranscript":
			if m.Text == "" {
				continue
			}
			ev = orchestrator.STTEvent{Kind: orchestrator.STTEventText, Value: m.Text, IsFinal: false}
		case "FinalTranscript":
			if m.Text != "" {
				finalEv := orchestrator.STTEvent{Kind: orchestrator.STTEventText, Value: m.Text, IsFinal: true}
				select {
				case sess.events <- finalEv:
				case <-sess.done:
					return
				}
			}
			ev = orchestrator.STTEvent{Kind: orchestrator.STTEventUtteranceEnd}
		case "SessionBegins", "SessionTerminated":
			continue
		default:
			if m.Error != "" {
				ev = orchestrator.STTEvent{Kind: orchestrator.STTEventError, Reason: fmt.Errorf("assemblyai: %s", m.Error)}
			} else {
				continue
			}
		}

		select {
		case sess.events <- ev:
		case <-sess.done:
			return
		}
	}
}

func (s *AssemblyAISTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	
	uploadURL, err := s.upload(ctx, audioPCM)
	if err != nil {
		return "", err
	}

	
	transcriptID, err := s.submit(ctx, uploadURL, lang)
	if err != nil {
		return "", err
	}

	
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
			text, status, err := s.getTranscript(ctx, transcriptID)
			if err != nil {
				return "", err
			}
			if status == "completed" {
				return text, nil
			}
			if status == "error" {
				return "", fmt.Errorf("assemblyai transcription failed")
			}
		}
	}
}

func (s *AssemblyAISTT) upload(ctx context.Context, audioPCM []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/upload", bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.UploadURL, nil
}

func (s *AssemblyAISTT) submit(ctx context.Context, uploadURL string, lang orchestrator.Language) (string, error) {
	payload := map[string]interface{}{
		"audio_url": uploadURL,
	}
	if lang != "" {
		payload["language_code"] = string(lang)
	}

	body, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.ID, nil
}

func (s *AssemblyAISTT) getTranscript(ctx context.Context, id string) (string, string, error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", "https://api.assemblyai.com/v2/transcript/"+id, nil)
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.Text, result.Status, nil
}
