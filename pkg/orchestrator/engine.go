package orchestrator

import (
	"context"
	"time"
)

// Engine is the per-session orchestrator of §4.2: it owns the provider
// connections, the STT event pump, and the TurnController, presenting the
// Session Loop with the four entry points start/on_audio/on_text/stop.
type Engine struct {
	config Config
	logger Logger
	send   SendFunc

	sttProvider StreamingSTTProvider
	llmProvider LLMProvider
	ttsProvider TTSProvider

	history *ConversationHistory
	tools   *ToolRegistry

	sttSession StreamingSTTSession
	sttAdapter *STTAdapter
	turn       *TurnController

	ctx    context.Context
	cancel context.CancelFunc

	pumpDone chan struct{}
	started  bool
}

// EngineDeps carries the already-constructed provider set; selection
// between providers (and the duplex fallback of §11) happens one layer up
// in the composition root, not inside Engine itself.
type EngineDeps struct {
	STT    StreamingSTTProvider
	LLM    LLMProvider
	TTS    TTSProvider
	Tools  *ToolRegistry
	Config Config
	Logger Logger
}

func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	tools := deps.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{
		config:      deps.Config,
		logger:      logger,
		sttProvider: deps.STT,
		llmProvider: deps.LLM,
		ttsProvider: deps.TTS,
		tools:       tools,
		history:     NewConversationHistory(deps.Config.MaxContextMessages),
	}
}

// InstallSystemPrompt configures the system message installed exactly once
// for this session (§3).
func (e *Engine) InstallSystemPrompt(prompt string) {
	e.history.InstallSystemPrompt(prompt)
}

// Start connects the STT session, wires the TurnController, and begins
// pumping recognizer events (§4.2's start(send_fn), idempotent).
func (e *Engine) Start(ctx context.Context, send SendFunc) error {
	if e.started {
		return nil
	}
	if e.sttProvider == nil || e.llmProvider == nil || e.ttsProvider == nil {
		return ErrNilProvider
	}
	e.started = true
	e.send = send
	e.ctx, e.cancel = context.WithCancel(ctx)

	session, err := e.sttProvider.Connect(e.ctx, e.config.Language)
	if err != nil {
		e.started = false
		return Classify(KindConnectFailure, err)
	}
	e.sttSession = session
	e.sttAdapter = NewSTTAdapter(session, time.Duration(e.config.KeepaliveInterval)*time.Millisecond, e.logger)

	llmClient := NewLLMClient(e.llmProvider, e.history, e.tools, e.logger)
	ttsStreamer := NewTTSStreamer(e.ttsProvider, e.config.AudioOutBufferBytes)
	vad := NewRMSVAD(e.config.VADThreshold, e.config.VADMinConfirmed, 0)

	e.turn = NewTurnController(e.ctx, send, llmClient, ttsStreamer, vad, e.history, e.sttAdapter, e.config, e.logger)

	e.pumpDone = make(chan struct{})
	go e.pumpSTTEvents()

	return nil
}

func (e *Engine) pumpSTTEvents() {
	defer close(e.pumpDone)
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.sttAdapter.Events():
			if !ok {
				return
			}
			if ev.Kind == STTEventError {
				e.logger.Warn("stt stream dropped", "reason", ev.Reason)
			}
			e.turn.HandleSTTEvent(ev)
		}
	}
}

// OnAudio forwards one inbound PCM16LE frame (§4.2 on_audio): sent to the
// recognizer and fed to the Local VAD fast path.
func (e *Engine) OnAudio(chunk []byte) {
	if !e.started {
		return
	}
	e.sttAdapter.SendAudio(chunk)
	e.turn.HandleAudioFrame(chunk)
}

// OnText implements §4.2's synthetic final-transcript injection: treated
// exactly as if the recognizer had finalized payload.content, with an
// optional turn_id override.
func (e *Engine) OnText(content string, turnID *int64) {
	if !e.started {
		return
	}
	e.turn.InjectText(content, turnID)
}

// Stop tears the session down: cancels every subtask, closes the STT
// session, and waits for the event pump to drain without reordering or
// dropping any in-flight message (§4.2).
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	if e.turn != nil {
		e.turn.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.sttSession != nil {
		if err := e.sttSession.Close(); err != nil {
			e.logger.Warn("stt session close failed", "error", err)
		}
	}
	if e.pumpDone != nil {
		<-e.pumpDone
	}
}
