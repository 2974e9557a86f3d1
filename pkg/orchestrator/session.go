package orchestrator

import (
	"context"
	"encoding/json"
)

// Conn is the minimal duplex transport the Session Loop needs (§4.1): a
// receive side yielding frames tagged binary-or-text, and the SendFunc lent
// to the Engine for outbound JSON messages. A composition root adapts its
// websocket library of choice to this shape.
type Conn interface {
	// ReadFrame blocks for the next inbound frame. isText distinguishes a
	// JSON control frame from a raw PCM16LE audio frame.
	ReadFrame(ctx context.Context) (data []byte, isText bool, err error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// textFrame is the inbound control-frame shape accepted by on_text (§4.2,
// §6): {"type":"text","content":"...","turn_id":optional}.
type textFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	TurnID  *int64 `json:"turn_id,omitempty"`
}

// SessionEngine is the Engine Orchestrator contract of §4.2 that the
// Session Loop depends on. Both the full-pipeline Engine and the
// native-audio-duplex DuplexEngine satisfy it (§2), so the composition
// root can select either variant behind the same Session type.
type SessionEngine interface {
	InstallSystemPrompt(prompt string)
	Start(ctx context.Context, send SendFunc) error
	OnAudio(chunk []byte)
	OnText(content string, turnID *int64)
	Stop()
}

// Session runs the accept-and-dispatch loop of §4.1 for one connected
// client: start the Engine it was given and relay frames until the
// connection drops, guaranteeing Engine.Stop() runs exactly once on exit.
type Session struct {
	conn   Conn
	engine SessionEngine
	logger Logger
}

func NewSession(conn Conn, engine SessionEngine, logger Logger) *Session {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Session{conn: conn, engine: engine, logger: logger}
}

// Run is the Session Loop of §4.1. It blocks until the connection ends,
// then tears the engine down unconditionally.
func (s *Session) Run(ctx context.Context) error {
	defer s.engine.Stop()
	defer s.conn.Close()

	if err := s.engine.Start(ctx, s.sendFunc(ctx)); err != nil {
		s.logger.Error("engine start failed", "error", err)
		return err
	}

	for {
		data, isText, err := s.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if isText {
			s.dispatchText(data)
			continue
		}
		s.engine.OnAudio(data)
	}
}

func (s *Session) dispatchText(data []byte) {
	var frame textFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("malformed text frame", "error", err)
		return
	}
	if frame.Type != "text" {
		s.logger.Warn("unrecognized text frame type", "type", frame.Type)
		return
	}
	s.engine.OnText(frame.Content, frame.TurnID)
}

func (s *Session) sendFunc(ctx context.Context) SendFunc {
	return func(m ClientMessage) error {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return s.conn.Send(ctx, payload)
	}
}
