package orchestrator

import (
	"context"
	"testing"
	"time"
)

func newTestTurnController(t *testing.T, llmProvider LLMProvider, tts TTSProvider, cfg Config) (*TurnController, *collectSend) {
	t.Helper()
	history := NewConversationHistory(0)
	llm := NewLLMClient(llmProvider, history, NewToolRegistry(), nil)
	streamer := NewTTSStreamer(tts, 8)
	vad := NewRMSVAD(cfg.VADThreshold, cfg.VADMinConfirmed, 0)
	session := newFakeSTTSession()
	adapter := NewSTTAdapter(session, time.Hour, nil)

	cs := &collectSend{}
	tc := NewTurnController(context.Background(), cs.send, llm, streamer, vad, history, adapter, cfg, nil)
	return tc, cs
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTurnControllerTurnIDIncrementsPerDispatch(t *testing.T) {
	cfg := DefaultConfig()
	llm := &fakeLLM{rounds: [][]LLMChunk{
		{{Content: "hi."}},
		{{Content: "again."}},
	}}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.InjectText("first turn", nil)
	waitFor(t, 2*time.Second, func() bool { return hasMessageType(cs, "turn_complete") })

	if tc.currentTurnID != 1 {
		t.Fatalf("currentTurnID after first dispatch = %d, want 1", tc.currentTurnID)
	}

	cs.reset()
	tc.InjectText("second turn", nil)
	waitFor(t, 2*time.Second, func() bool { return hasMessageType(cs, "turn_complete") })

	if tc.currentTurnID != 2 {
		t.Fatalf("currentTurnID after second dispatch = %d, want 2", tc.currentTurnID)
	}
}

func TestTurnControllerEmptyTranscriptIsNoOp(t *testing.T) {
	cfg := DefaultConfig()
	llm := &fakeLLM{}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.dispatchTurn()

	if tc.currentTurnID != 0 {
		t.Fatalf("dispatching an empty transcript must not bump TurnId, got %d", tc.currentTurnID)
	}
	if msgs := cs.snapshot(); len(msgs) != 0 {
		t.Fatalf("dispatching an empty transcript must emit nothing, got %+v", msgs)
	}
	if llm.calls != 0 {
		t.Fatalf("dispatching an empty transcript must not call the LLM")
	}
}

func hasMessageType(cs *collectSend, typ string) bool {
	for _, m := range cs.snapshot() {
		if m.Type == typ {
			return true
		}
	}
	return false
}

func TestTurnControllerBargeInViaLocalVAD(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VADThreshold = 1000
	cfg.VADMinConfirmed = 7

	// An LLM round that never finishes on its own keeps the turn speaking
	// long enough for the barge-in frames to land.
	block := make(chan struct{})
	llm := &blockingLLM{block: block}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.InjectText("tell me a long story", nil)
	waitFor(t, time.Second, func() bool { return hasMessageType(cs, "state") })
	waitFor(t, time.Second, func() bool { return tc.isSpeakingNow() })

	loud := loudFrame(160)
	for i := 0; i < 7; i++ {
		tc.HandleAudioFrame(loud)
	}

	waitFor(t, time.Second, func() bool { return hasMessageType(cs, "stop_audio") })
	close(block)
}

func (tc *TurnController) isSpeakingNow() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.isSpeaking
}

// blockingLLM streams content then blocks until block is closed, keeping a
// turn in the Speaking state for barge-in tests.
type blockingLLM struct {
	block chan struct{}
}

func (b *blockingLLM) Name() string { return "blocking_llm" }
func (b *blockingLLM) StreamComplete(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan LLMChunk, error) {
	out := make(chan LLMChunk, 1)
	go func() {
		defer close(out)
		out <- LLMChunk{Content: "hello. "}
		select {
		case <-b.block:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func TestTurnControllerBargeInViaSTTTextWhileSpeaking(t *testing.T) {
	cfg := DefaultConfig()
	block := make(chan struct{})
	llm := &blockingLLM{block: block}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.InjectText("tell me a long story", nil)
	waitFor(t, time.Second, func() bool { return tc.isSpeakingNow() })

	tc.HandleSTTEvent(STTEvent{Kind: STTEventText, Value: "stop that", IsFinal: true})

	waitFor(t, time.Second, func() bool { return hasMessageType(cs, "stop_audio") })
	close(block)
}

func TestTurnControllerBargeInViaUtteranceEndWhileSpeaking(t *testing.T) {
	cfg := DefaultConfig()
	block := make(chan struct{})
	llm := &blockingLLM{block: block}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.InjectText("tell me a long story", nil)
	waitFor(t, time.Second, func() bool { return tc.isSpeakingNow() })

	tc.HandleSTTEvent(STTEvent{Kind: STTEventUtteranceEnd})

	waitFor(t, time.Second, func() bool { return hasMessageType(cs, "stop_audio") })
	close(block)
}

func TestTurnControllerSilenceTimerFiresOncePerArming(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceTimeout = 20
	llm := &fakeLLM{rounds: [][]LLMChunk{{{Content: "ok."}}}}
	tts := &fakeTTS{}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.handleText("hello", true)
	// Re-arming before the first timer fires must cancel it: only the
	// second arming's fire should dispatch a turn.
	time.Sleep(5 * time.Millisecond)
	tc.handleText("world", true)

	waitFor(t, 2*time.Second, func() bool { return hasMessageType(cs, "turn_complete") })

	completions := 0
	for _, m := range cs.snapshot() {
		if m.Type == "turn_complete" {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("expected the silence timer to fire exactly once, got %d turn_complete messages", completions)
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly one dispatched turn, got %d LLM calls", llm.calls)
	}
}

func TestTurnControllerTTSFailureMidSentenceEndsTurnCleanly(t *testing.T) {
	cfg := DefaultConfig()
	llm := &fakeLLM{rounds: [][]LLMChunk{{{Content: "hello world, this keeps going. "}}}}
	tts := &fakeTTS{failAfter: 4}
	tc, cs := newTestTurnController(t, llm, tts, cfg)

	tc.InjectText("say something long", nil)

	waitFor(t, 2*time.Second, func() bool { return hasMessageType(cs, "turn_complete") })

	if tts.synthCalls == 0 {
		t.Fatal("expected the TTS provider to have been invoked")
	}
}
