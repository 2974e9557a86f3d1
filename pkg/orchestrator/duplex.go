package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voxrelay/pkg/metrics"
)

// DuplexEngine is the native-audio-duplex variant of §2: "a single
// bidirectional service handling STT+LLM+TTS internally — the orchestrator
// degenerates to a transparent relay plus the same local-VAD barge-in
// logic". No unobserved combined STT+LLM+TTS SDK exists in the retrieved
// corpus (see DESIGN.md), so this composes a real streaming STT provider
// with a real streaming LLM provider and a TTS provider behind the same
// public Start/OnAudio/OnText/Stop contract Engine presents (§4.2), with no
// tool-call round-trips: a duplex turn is one LLM call whose streamed
// fragments are split into sentences, each spoken with its own TTS call, the
// LLM-consume and TTS-dispatch stages joined with errgroup since they must
// both complete (or both abort together) as a unit.
type DuplexEngine struct {
	config Config
	logger Logger
	send   SendFunc

	sttProvider StreamingSTTProvider
	llmProvider LLMProvider
	ttsProvider TTSProvider

	history *ConversationHistory
	vad     *RMSVAD
	echo    *EchoSuppressor

	sttSession StreamingSTTSession
	sttAdapter *STTAdapter

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	currentTurnID   int64
	transcript      []string
	isSpeaking      bool
	lastAudioSentAt time.Time
	task            *duplexTurn

	pumpDone chan struct{}
	started  bool
}

type duplexTurn struct {
	turnID int64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDuplexEngine(stt StreamingSTTProvider, llm LLMProvider, tts TTSProvider, config Config, logger Logger) *DuplexEngine {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &DuplexEngine{
		config:      config,
		logger:      logger,
		sttProvider: stt,
		llmProvider: llm,
		ttsProvider: tts,
		history:     NewConversationHistory(config.MaxContextMessages),
		vad:         NewRMSVAD(config.VADThreshold, config.VADMinConfirmed, 0),
		echo:        NewEchoSuppressor(),
	}
}

func (e *DuplexEngine) InstallSystemPrompt(prompt string) {
	e.history.InstallSystemPrompt(prompt)
}

func (e *DuplexEngine) Start(ctx context.Context, send SendFunc) error {
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

	e.pumpDone = make(chan struct{})
	go e.pumpSTTEvents()

	return nil
}

func (e *DuplexEngine) pumpSTTEvents() {
	defer close(e.pumpDone)
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.sttAdapter.Events():
			if !ok {
				return
			}
			e.handleSTTEvent(ev)
		}
	}
}

func (e *DuplexEngine) handleSTTEvent(ev STTEvent) {
	switch ev.Kind {
	case STTEventError:
		e.logger.Warn("stt stream dropped", "reason", ev.Reason)
	case STTEventUtteranceEnd:
		e.mu.Lock()
		speaking := e.isSpeaking
		e.mu.Unlock()
		if speaking {
			metrics.RecordBargeIn("stt_utterance_end")
			e.bargeIn()
		}
		e.dispatchTurn()
	case STTEventText:
		e.mu.Lock()
		speaking := e.isSpeaking
		e.mu.Unlock()
		trimmed := strings.TrimSpace(ev.Value)
		if speaking && (ev.IsFinal || len(trimmed) >= 2) && trimmed != "" {
			metrics.RecordBargeIn("stt_text")
			e.bargeIn()
		}
		e.emit(transcriptMessage(ev.Value, ev.IsFinal))
		if ev.IsFinal {
			e.mu.Lock()
			e.transcript = append(e.transcript, ev.Value)
			e.mu.Unlock()
		}
	}
}

// OnAudio relays one inbound frame to the recognizer and the Local VAD fast
// path (§4.4 detector 1), the "transparent relay" half of the duplex
// contract.
func (e *DuplexEngine) OnAudio(chunk []byte) {
	if !e.started {
		return
	}
	e.sttAdapter.SendAudio(chunk)

	e.mu.Lock()
	speaking := e.isSpeaking
	lastSent := e.lastAudioSentAt
	e.mu.Unlock()
	if !speaking {
		return
	}
	if e.echo != nil && time.Since(lastSent) < 250*time.Millisecond && e.echo.IsEcho(chunk) {
		return
	}

	ev, err := e.vad.Process(chunk)
	if err != nil {
		e.logger.Warn("local vad error", "error", err)
		return
	}
	if ev != nil && ev.Type == VADSpeechStart {
		metrics.RecordBargeIn("local_vad")
		e.bargeIn()
	}
}

func (e *DuplexEngine) OnText(content string, turnID *int64) {
	if !e.started {
		return
	}
	if turnID != nil {
		e.mu.Lock()
		e.currentTurnID = *turnID
		e.mu.Unlock()
	}
	e.mu.Lock()
	e.transcript = append(e.transcript, content)
	e.mu.Unlock()
	e.dispatchTurn()
}

func (e *DuplexEngine) dispatchTurn() {
	e.mu.Lock()
	text := strings.TrimSpace(strings.Join(e.transcript, " "))
	e.transcript = nil
	e.mu.Unlock()

	if text == "" {
		return
	}

	e.cancelCurrentTurn()

	e.mu.Lock()
	e.currentTurnID++
	turnID := e.currentTurnID
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	t := &duplexTurn{turnID: turnID, cancel: cancel, done: done}
	e.mu.Lock()
	e.task = t
	e.mu.Unlock()

	go e.runTurn(ctx, done, turnID, text)
}

func (e *DuplexEngine) bargeIn() {
	e.cancelCurrentTurn()
	e.mu.Lock()
	e.isSpeaking = false
	e.currentTurnID++
	e.mu.Unlock()
	e.vad.Reset()
	if e.echo != nil {
		e.echo.ClearEchoBuffer()
	}
	e.emit(stopAudioMessage())
}

func (e *DuplexEngine) cancelCurrentTurn() {
	e.mu.Lock()
	t := e.task
	e.task = nil
	e.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
	_ = e.ttsProvider.Abort()
}

// runTurn is the duplex variant's one-shot turn: one LLM call, no tool
// rounds — the streamed fragments go through a SentenceBuffer and each
// completed sentence is handed to TTS as it arrives, joined with errgroup
// since the generate-stage goroutine and the
// synthesize-stage goroutine must succeed or abort as a unit (§5 suspension
// points: "executing a tool (treated as potentially suspending)" has no
// analogue here since the duplex variant never runs tools).
func (e *DuplexEngine) runTurn(ctx context.Context, done chan struct{}, turnID int64, text string) {
	defer close(done)
	turnStarted := time.Now()

	e.emit(stateMessage("processing", turnID, true))
	e.history.AppendUser(text)

	g, gctx := errgroup.WithContext(ctx)
	content := make(chan string, 1)

	g.Go(func() error {
		defer close(content)
		stream, err := e.llmProvider.StreamComplete(gctx, e.history.Snapshot(), nil)
		if err != nil {
			return Classify(KindProviderError, err)
		}
		var full strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				return Classify(KindProviderError, chunk.Err)
			}
			if chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			select {
			case content <- chunk.Content:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		e.history.AppendAssistant(full.String(), nil)
		return nil
	})

	firstAudio := true
	g.Go(func() error {
		var sb SentenceBuffer
		for frag := range content {
			for _, sentence := range sb.Feed(frag) {
				if err := e.speak(gctx, turnID, sentence, &firstAudio); err != nil {
					return err
				}
			}
		}
		if residual := sb.Flush(); residual != "" {
			if err := e.speak(gctx, turnID, residual, &firstAudio); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		e.logger.Warn("duplex turn error", "error", err)
	}

	if ctx.Err() != nil {
		return
	}

	select {
	case <-time.After(time.Duration(e.config.TailEchoGuardMS) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	if e.currentTurnID == turnID {
		e.isSpeaking = false
	}
	e.mu.Unlock()

	metrics.RecordTurn("completed", "gemini_live", time.Since(turnStarted).Seconds())
	e.emit(turnCompleteMessage())
}

func (e *DuplexEngine) speak(ctx context.Context, turnID int64, sentence string, firstAudio *bool) error {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil
	}
	e.emit(responseChunkMessage(sentence))

	if *firstAudio {
		e.mu.Lock()
		e.isSpeaking = true
		e.mu.Unlock()
		e.emit(stateMessage("speaking", turnID, true))
		*firstAudio = false
	}

	return e.ttsProvider.StreamSynthesize(ctx, sentence, e.config.VoiceStyle, e.config.Language, func(chunk []byte) error {
		e.mu.Lock()
		stale := e.currentTurnID != turnID
		e.mu.Unlock()
		if stale || ctx.Err() != nil {
			return context.Canceled
		}
		e.mu.Lock()
		e.lastAudioSentAt = time.Now()
		e.mu.Unlock()
		if e.echo != nil {
			e.echo.RecordPlayedAudio(chunk)
		}
		return e.send(audioMessage(chunk, turnID))
	})
}

func (e *DuplexEngine) emit(m ClientMessage) {
	if err := e.send(m); err != nil {
		e.logger.Warn("send to client failed", "error", err)
	}
}

func (e *DuplexEngine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	e.cancelCurrentTurn()
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
