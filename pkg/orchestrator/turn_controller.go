package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voxrelay/pkg/metrics"
)

// TCState is one of the three Turn Controller states of §4.4.
type TCState string

const (
	StateIdle      TCState = "Idle"
	StateListening TCState = "Listening"
	StateSpeaking  TCState = "Speaking"
)

// turnTask is the handle of the currently running LLM+TTS response
// pipeline (§3). At most one may be non-terminal per session.
type turnTask struct {
	turnID int64
	cancel context.CancelFunc
	done   chan struct{}
}

// TurnController is the heart of the engine (§4.4): it consumes STT events,
// runs the endpointing race, applies the barge-in policy, and owns the
// TurnTask lifecycle. Its mutable fields are touched by exactly one
// "owning" goroutine (the event pump) plus the turn-task goroutine it
// spawns; the mutex guards only the handful of fields both sides touch
// across a suspension point (current turn id, speaking flag), matching the
// single-owner-with-re-check discipline of §5.
type TurnController struct {
	send    SendFunc
	llm     *LLMClient
	tts     *TTSStreamer
	vad     *RMSVAD
	echo    *EchoSuppressor
	config  Config
	logger  Logger
	history *ConversationHistory

	sttAdapter *STTAdapter

	mu               sync.Mutex
	state            TCState
	currentTurnID    int64
	transcriptBuffer []string
	task             *turnTask
	isSpeaking       bool
	lastAudioSentAt  time.Time

	silence *silenceTimer

	sessionCtx context.Context
}

func NewTurnController(sessionCtx context.Context, send SendFunc, llm *LLMClient, tts *TTSStreamer, vad *RMSVAD, history *ConversationHistory, sttAdapter *STTAdapter, config Config, logger Logger) *TurnController {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	tc := &TurnController{
		send:       send,
		llm:        llm,
		tts:        tts,
		vad:        vad,
		echo:       NewEchoSuppressor(),
		config:     config,
		logger:     logger,
		history:    history,
		sttAdapter: sttAdapter,
		state:      StateIdle,
		sessionCtx: sessionCtx,
	}
	tc.silence = newSilenceTimer(time.Duration(config.SilenceTimeout)*time.Millisecond, tc.onSilenceTimeout)
	return tc
}

// HandleSTTEvent dispatches one recognizer event per §4.3/§4.4. Called from
// the engine's single STT-event-pump goroutine — this is the "owning"
// goroutine for all Turn Controller state.
func (tc *TurnController) HandleSTTEvent(ev STTEvent) {
	switch ev.Kind {
	case STTEventError:
		tc.logger.Warn("stt stream error", "reason", ev.Reason)
		return
	case STTEventSpeechStarted:
		tc.silence.Disarm()
		return
	case STTEventUtteranceEnd:
		tc.mu.Lock()
		speaking := tc.isSpeaking
		tc.mu.Unlock()
		if speaking {
			metrics.RecordBargeIn("stt_utterance_end")
			tc.bargeIn()
		}
		tc.silence.Disarm()
		tc.dispatchTurn()
		return
	case STTEventText:
		tc.handleText(ev.Value, ev.IsFinal)
	}
}

func (tc *TurnController) handleText(text string, isFinal bool) {
	tc.mu.Lock()
	speaking := tc.isSpeaking
	if tc.state == StateIdle {
		tc.state = StateListening
	}
	tc.mu.Unlock()

	// Barge-in detector 2 (§4.4): any text while speaking, final or an
	// interim whose trimmed length >= 2, fires barge-in immediately.
	if speaking {
		trimmed := strings.TrimSpace(text)
		minWords := tc.config.MinWordsToInterrupt
		qualifies := isFinal || len(trimmed) >= 2
		if qualifies && minWords > 1 {
			qualifies = countWords(trimmed) >= minWords
		}
		if qualifies && trimmed != "" {
			metrics.RecordBargeIn("stt_text")
			tc.bargeIn()
		}
	}

	if !isFinal {
		tc.emitClient(transcriptMessage(text, false))
		return
	}

	tc.emitClient(transcriptMessage(text, true))

	tc.mu.Lock()
	tc.transcriptBuffer = append(tc.transcriptBuffer, text)
	tc.mu.Unlock()

	// Re-arm the local silence timer after every final text event (§4.4).
	tc.silence.Arm()
}

func countWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

func (tc *TurnController) onSilenceTimeout() {
	tc.dispatchTurn()
}

// HandleAudioFrame feeds one inbound PCM16LE frame to the Local VAD fast
// path (§4.4 detector 1, §4.7). Also called from the engine's single audio
// ingest goroutine.
func (tc *TurnController) HandleAudioFrame(frame []byte) {
	tc.mu.Lock()
	speaking := tc.isSpeaking
	lastSent := tc.lastAudioSentAt
	tc.mu.Unlock()

	if !speaking {
		return
	}

	// Guard against the client's own TTS output leaking back as barge-in;
	// does not change the RMS confirmation count contract itself (§8).
	if tc.echo != nil && time.Since(lastSent) < 250*time.Millisecond && tc.echo.IsEcho(frame) {
		return
	}

	ev, err := tc.vad.Process(frame)
	if err != nil {
		tc.logger.Warn("local vad error", "error", err)
		return
	}
	if ev != nil && ev.Type == VADSpeechStart {
		metrics.RecordBargeIn("local_vad")
		tc.bargeIn()
	}
}

// InjectText implements the Engine Orchestrator's on_text synthetic turn
// (§4.2): treated as if STT had finalized payload.content.
func (tc *TurnController) InjectText(content string, turnID *int64) {
	if turnID != nil {
		tc.mu.Lock()
		tc.currentTurnID = *turnID
		tc.mu.Unlock()
	}
	tc.handleText(content, true)
	tc.dispatchTurn()
}

// dispatchTurn implements §4.4's shared endpointing procedure: concatenate
// TranscriptBuffer, trim, clear; if non-empty, cancel any live TurnTask and
// start a new one with a fresh TurnId. An empty buffer is a no-op per §8's
// boundary behavior (no LLM call, no TurnId bump, no outbound messages).
func (tc *TurnController) dispatchTurn() {
	tc.mu.Lock()
	text := strings.TrimSpace(strings.Join(tc.transcriptBuffer, " "))
	tc.transcriptBuffer = nil
	tc.mu.Unlock()

	tc.silence.Disarm()

	if text == "" {
		tc.mu.Lock()
		if tc.state != StateSpeaking {
			tc.state = StateIdle
		}
		tc.mu.Unlock()
		return
	}

	tc.cancelCurrentTurn()

	tc.mu.Lock()
	tc.currentTurnID++
	turnID := tc.currentTurnID
	tc.state = StateSpeaking
	tc.mu.Unlock()

	tc.startTurn(turnID, text)
}

// bargeIn implements §4.4's verified-barge-in fire: cancel TurnTask, await
// its cancellation ack, bump TurnId, emit stop_audio.
func (tc *TurnController) bargeIn() {
	tc.cancelCurrentTurn()

	tc.mu.Lock()
	tc.isSpeaking = false
	tc.currentTurnID++
	tc.state = StateListening
	tc.mu.Unlock()

	tc.vad.Reset()

	if tc.echo != nil {
		tc.echo.ClearEchoBuffer()
	}

	tc.emitClient(stopAudioMessage())
}

// cancelCurrentTurn cancels the live TurnTask (if any) and blocks until its
// goroutine has observed cancellation, satisfying "cancel current TurnTask;
// await its cancellation ack" (§4.4).
func (tc *TurnController) cancelCurrentTurn() {
	tc.mu.Lock()
	t := tc.task
	tc.task = nil
	tc.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done
	if tc.tts != nil {
		_ = tc.tts.Abort()
	}
}

// startTurn spawns the TurnTask goroutine implementing §4.4's sentence
// streaming procedure.
func (tc *TurnController) startTurn(turnID int64, text string) {
	ctx, cancel := context.WithCancel(tc.sessionCtx)
	done := make(chan struct{})
	t := &turnTask{turnID: turnID, cancel: cancel, done: done}

	tc.mu.Lock()
	tc.task = t
	tc.mu.Unlock()

	go tc.runTurn(ctx, done, turnID, text)
}

func (tc *TurnController) runTurn(ctx context.Context, done chan struct{}, turnID int64, text string) {
	defer close(done)
	turnStarted := time.Now()

	tc.emitClient(stateMessage("processing", turnID, true))

	tc.sttAdapter.StartKeepalive(ctx)
	defer tc.sttAdapter.StopKeepalive()

	fragments := tc.llm.Generate(ctx, text)

	var sb SentenceBuffer
	firstAudio := true

	for frag := range fragments {
		if ctx.Err() != nil {
			return
		}
		if frag.Err != nil {
			tc.logger.Error("llm fragment error", "error", frag.Err)
		}
		if frag.Content != "" {
			for _, sentence := range sb.Feed(frag.Content) {
				if !tc.speak(ctx, turnID, sentence, &firstAudio) {
					return
				}
			}
		}
		if frag.Done {
			break
		}
	}

	if ctx.Err() != nil {
		return
	}

	if residual := sb.Flush(); residual != "" {
		if !tc.speak(ctx, turnID, residual, &firstAudio) {
			return
		}
	}

	// Tail-echo guard (§4.4 step 5): prevents the TTS tail being cut by an
	// immediate next turn.
	select {
	case <-time.After(time.Duration(tc.config.TailEchoGuardMS) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	tc.mu.Lock()
	if tc.currentTurnID == turnID {
		tc.isSpeaking = false
		tc.state = StateListening
	}
	tc.mu.Unlock()

	metrics.RecordTurn("completed", "deepgram_pipeline", time.Since(turnStarted).Seconds())
	tc.emitClient(turnCompleteMessage())
}

// speak implements §4.4's speak(sentence, turn_id): emit response_chunk,
// stream TTS audio tagged with turn_id, then sleep the soft-backpressure
// interval. Returns false if the turn was cancelled mid-flight.
func (tc *TurnController) speak(ctx context.Context, turnID int64, sentence string, firstAudio *bool) bool {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return ctx.Err() == nil
	}

	tc.emitClient(responseChunkMessage(sentence))

	if *firstAudio {
		tc.mu.Lock()
		tc.isSpeaking = true
		tc.mu.Unlock()
		tc.emitClient(stateMessage("speaking", turnID, true))
		*firstAudio = false
	}

	var totalBytes int
	err := tc.tts.Stream(ctx, sentence, tc.config.VoiceStyle, tc.config.Language, func(chunk []byte) error {
		tc.mu.Lock()
		stale := tc.currentTurnID != turnID
		tc.mu.Unlock()
		if stale || ctx.Err() != nil {
			return fmt.Errorf("turn %d superseded", turnID)
		}

		tc.mu.Lock()
		tc.lastAudioSentAt = time.Now()
		tc.mu.Unlock()
		if tc.echo != nil {
			tc.echo.RecordPlayedAudio(chunk)
		}

		totalBytes += len(chunk)
		return tc.send(audioMessage(chunk, turnID))
	})
	if err != nil {
		return ctx.Err() == nil
	}

	// Soft backpressure: 0.5 * bytes / 48000 seconds, preserved verbatim
	// per the spec's resolved open question (SPEC_FULL.md §9).
	backpressure := time.Duration(0.5*float64(totalBytes)/48000*float64(time.Second))
	if backpressure > 0 {
		select {
		case <-time.After(backpressure):
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

func (tc *TurnController) emitClient(m ClientMessage) {
	if err := tc.send(m); err != nil {
		tc.logger.Warn("send to client failed", "error", err)
	}
}

// Stop cancels any live TurnTask and disarms the silence timer, part of
// the session-level stop() cascade (§4.2, §5).
func (tc *TurnController) Stop() {
	tc.silence.Disarm()
	tc.cancelCurrentTurn()
}
