package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// ElevenLabsTTS is the streaming TTSProvider behind the elevenlabs provider
// selector (§6 Configuration): a websocket client against ElevenLabs's
// input-streaming endpoint, in the same coder/websocket dial/read-loop
// style as LokutorTTS.
type ElevenLabsTTS struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewElevenLabsTTS(apiKey string) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		apiKey: apiKey,
		host:   "api.elevenlabs.io",
		scheme: "wss",
	}
}

// elevenLabsMessage is one frame of the input-streaming request protocol:
// a text increment plus generation config, sent once per sentence with Flush
// true. A following frame with an empty Text signals end-of-input for this
// synthesis.
type elevenLabsMessage struct {
	Text            string                 `json:"text"`
	VoiceSettings   map[string]interface{} `json:"voice_settings,omitempty"`
	XIAPIKey        string                 `json:"xi_api_key,omitempty"`
	TryTriggerGenFn bool                   `json:"try_trigger_generation,omitempty"`
	Flush           bool                   `json:"flush,omitempty"`
}

type elevenLabsResponse struct {
	Audio     string `json:"audio"`
	IsFinal   bool   `json:"isFinal"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (t *ElevenLabsTTS) connect(ctx context.Context, voice orchestrator.Voice) (*websocket.Conn, error) {
	u := url.URL{
		Scheme:   t.scheme,
		Host:     t.host,
		Path:     fmt.Sprintf("/v1/text-to-speech/%s/stream-input", url.PathEscape(string(voice))),
		RawQuery: "model_id=eleven_turbo_v2&output_format=pcm_24000",
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	return conn, nil
}

func (t *ElevenLabsTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamSynthesize opens one synthesis session per sentence (§4.6 "sentence
// is the unit of dispatch"): sends the text with flush=true, then reads
// base64 PCM chunks until isFinal.
func (t *ElevenLabsTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	conn, err := t.connect(ctx, voice)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	initMsg := elevenLabsMessage{
		Text:     " ",
		XIAPIKey: t.apiKey,
		VoiceSettings: map[string]interface{}{
			"stability":        0.5,
			"similarity_boost":  0.75,
		},
	}
	if err := wsjson.Write(ctx, conn, initMsg); err != nil {
		return fmt.Errorf("elevenlabs: send init: %w", err)
	}

	textMsg := elevenLabsMessage{Text: text, TryTriggerGenFn: true, Flush: true}
	if err := wsjson.Write(ctx, conn, textMsg); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := wsjson.Write(ctx, conn, elevenLabsMessage{Text: ""}); err != nil {
		return fmt.Errorf("elevenlabs: send close: %w", err)
	}

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp elevenLabsResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

func (t *ElevenLabsTTS) Name() string { return "elevenlabs" }

// Abort forcibly drops the in-flight synthesis connection, used by
// barge-in to abandon the current TTS read (§4.4 cancellation semantics).
func (t *ElevenLabsTTS) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "aborted")
	t.conn = nil
	return err
}
