package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// fakeSTTSession is a hand-written StreamingSTTSession double: tests push
// events through its channel directly instead of driving a real recognizer.
type fakeSTTSession struct {
	events chan STTEvent
	sent   [][]byte
	closed bool
}

func newFakeSTTSession() *fakeSTTSession {
	return &fakeSTTSession{events: make(chan STTEvent, 32)}
}

func (f *fakeSTTSession) SendAudio(chunk []byte) error {
	f.sent = append(f.sent, chunk)
	return nil
}
func (f *fakeSTTSession) Keepalive() error         { return nil }
func (f *fakeSTTSession) Events() <-chan STTEvent  { return f.events }
func (f *fakeSTTSession) Close() error              { f.closed = true; close(f.events); return nil }

// fakeStreamingSTT hands back a pre-built fakeSTTSession on Connect.
type fakeStreamingSTT struct {
	session *fakeSTTSession
}

func (f *fakeStreamingSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	return "", nil
}
func (f *fakeStreamingSTT) Name() string { return "fake_stt" }
func (f *fakeStreamingSTT) Connect(ctx context.Context, lang Language) (StreamingSTTSession, error) {
	return f.session, nil
}

// fakeLLM replays a fixed sequence of completion rounds: each call to
// StreamComplete consumes the next round and returns its chunks verbatim,
// letting tests script a tool-call round trip deterministically.
type fakeLLM struct {
	rounds [][]LLMChunk
	calls  int
}

func (f *fakeLLM) Name() string { return "fake_llm" }

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan LLMChunk, error) {
	if f.calls >= len(f.rounds) {
		return nil, errors.New("fakeLLM: no more scripted rounds")
	}
	round := f.rounds[f.calls]
	f.calls++
	out := make(chan LLMChunk, len(round))
	for _, c := range round {
		out <- c
	}
	close(out)
	return out, nil
}

// fakeTTS streams back the text's bytes in 8-byte chunks, or fails
// mid-stream before a chunk that would take the total past failAfter.
type fakeTTS struct {
	failAfter  int // fail before emitting more than this many bytes; 0 disables
	aborted    bool
	synthCalls int
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return []byte(text), nil
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	f.synthCalls++
	data := []byte(text)
	sent := 0
	for i := 0; i < len(data); i += 8 {
		end := i + 8
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		if f.failAfter > 0 && sent+len(chunk) > f.failAfter {
			return errors.New("fakeTTS: synthesis failed mid-stream")
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
		sent += len(chunk)
	}
	return nil
}

func (f *fakeTTS) Abort() error { f.aborted = true; return nil }
func (f *fakeTTS) Name() string { return "fake_tts" }

// collectSend accumulates every ClientMessage handed to a SendFunc. Guarded
// by a mutex since the turn-task goroutine sends concurrently with the test
// goroutine polling for a message type.
type collectSend struct {
	mu       sync.Mutex
	messages []ClientMessage
}

func (c *collectSend) send(m ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return nil
}

func (c *collectSend) snapshot() []ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ClientMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *collectSend) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
