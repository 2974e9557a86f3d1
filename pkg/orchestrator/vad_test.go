package orchestrator

import "testing"

func loudFrame(n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(20000)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func quietFrame(n int) []byte {
	return make([]byte, n*2)
}

func TestRMSVADConfirmsOnSeventhConsecutiveFrame(t *testing.T) {
	v := NewRMSVAD(1000, 7, 0)
	frame := loudFrame(160)

	for i := 0; i < 6; i++ {
		ev, err := v.Process(frame)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if ev != nil && ev.Type == VADSpeechStart {
			t.Fatalf("fired SPEECH_START early at frame %d", i+1)
		}
		if v.IsSpeaking() {
			t.Fatalf("IsSpeaking true before the 7th frame (frame %d)", i+1)
		}
	}

	ev, err := v.Process(frame)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ev == nil || ev.Type != VADSpeechStart {
		t.Fatalf("expected SPEECH_START on the 7th consecutive frame, got %+v", ev)
	}
	if !v.IsSpeaking() {
		t.Fatal("IsSpeaking should be true after confirmation")
	}
}

func TestRMSVADSingleQuietFrameResetsConsecutiveCount(t *testing.T) {
	v := NewRMSVAD(1000, 7, 0)
	loud := loudFrame(160)
	quiet := quietFrame(160)

	for i := 0; i < 6; i++ {
		if _, err := v.Process(loud); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	// One frame at or below threshold between two qualifying frames resets
	// the count to zero (§8's VADState invariant).
	if _, err := v.Process(quiet); err != nil {
		t.Fatalf("Process: %v", err)
	}

	for i := 0; i < 6; i++ {
		ev, err := v.Process(loud)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if ev != nil && ev.Type == VADSpeechStart {
			t.Fatalf("fired SPEECH_START before a fresh 7-frame run completed (frame %d after reset)", i+1)
		}
	}
	ev, err := v.Process(loud)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if ev == nil || ev.Type != VADSpeechStart {
		t.Fatalf("expected SPEECH_START on the 7th consecutive frame after reset, got %+v", ev)
	}
}

func TestRMSVADResetClearsConsecutiveCountAndSpeakingFlag(t *testing.T) {
	v := NewRMSVAD(1000, 7, 0)
	loud := loudFrame(160)
	for i := 0; i < 7; i++ {
		if _, err := v.Process(loud); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if !v.IsSpeaking() {
		t.Fatal("expected IsSpeaking after 7 confirmed frames")
	}

	v.Reset()
	if v.IsSpeaking() {
		t.Fatal("Reset should clear IsSpeaking")
	}

	for i := 0; i < 6; i++ {
		if _, err := v.Process(loud); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if v.IsSpeaking() {
		t.Fatal("IsSpeaking should stay false until a fresh 7-frame run after Reset")
	}
}
