package orchestrator

import "testing"

func TestMessage(t *testing.T) {
	msg := Message{Role: RoleUser, Content: "Hello"}
	if msg.Role != RoleUser {
		t.Errorf("Expected role 'user', got '%s'", msg.Role)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SampleRateIn != 16000 {
		t.Errorf("Expected input sample rate 16000, got %d", cfg.SampleRateIn)
	}
	if cfg.SampleRateOut != 24000 {
		t.Errorf("Expected output sample rate 24000, got %d", cfg.SampleRateOut)
	}
	if cfg.MaxContextMessages != 40 {
		t.Errorf("Expected max messages 40, got %d", cfg.MaxContextMessages)
	}
	if cfg.SilenceTimeout != 1200 {
		t.Errorf("Expected silence timeout 1200ms, got %d", cfg.SilenceTimeout)
	}
	if cfg.KeepaliveInterval != 5000 {
		t.Errorf("Expected keepalive interval 5000ms, got %d", cfg.KeepaliveInterval)
	}
	if cfg.VADThreshold != 1000 {
		t.Errorf("Expected VAD threshold 1000, got %v", cfg.VADThreshold)
	}
	if cfg.VADMinConfirmed != 7 {
		t.Errorf("Expected VAD min confirmed 7, got %d", cfg.VADMinConfirmed)
	}
	if cfg.AudioOutBufferBytes != 4096 {
		t.Errorf("Expected audio out buffer 4096, got %d", cfg.AudioOutBufferBytes)
	}
	if cfg.Engine != EngineDeepgramPipeline {
		t.Errorf("Expected default engine deepgram_pipeline, got %s", cfg.Engine)
	}
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = &NoOpLogger{}
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
}
