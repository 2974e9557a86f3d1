package orchestrator

import "encoding/base64"

// ClientMessage is one outbound JSON text frame, matching the wire contract
// of §6. Fields are tagged so a thin composition-root JSON encoder can
// marshal exactly the shape the table specifies (omitting zero-value
// optional fields).
type ClientMessage struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	TurnID  *int64 `json:"turn_id,omitempty"`
	Text    string `json:"text,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
	Content string `json:"content,omitempty"`
	Data    string `json:"data,omitempty"`
}

// SendFunc delivers one outbound message to the client channel. Adapters
// never own the channel — they are lent this closure (§3 ownership note,
// §9 "weak send-to-client capabilities").
type SendFunc func(ClientMessage) error

func stateMessage(state string, turnID int64, withTurnID bool) ClientMessage {
	m := ClientMessage{Type: "state", State: state}
	if withTurnID {
		m.TurnID = &turnID
	}
	return m
}

func transcriptMessage(text string, isFinal bool) ClientMessage {
	f := isFinal
	return ClientMessage{Type: "transcript", Text: text, IsFinal: &f}
}

func responseChunkMessage(content string) ClientMessage {
	return ClientMessage{Type: "response_chunk", Content: content}
}

func audioMessage(data []byte, turnID int64) ClientMessage {
	return ClientMessage{
		Type:   "audio",
		Data:   base64.StdEncoding.EncodeToString(data),
		TurnID: &turnID,
	}
}

func stopAudioMessage() ClientMessage {
	return ClientMessage{Type: "stop_audio"}
}

func turnCompleteMessage() ClientMessage {
	return ClientMessage{Type: "turn_complete"}
}
