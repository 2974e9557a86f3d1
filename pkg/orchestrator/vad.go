package orchestrator

import (
	"math"
	"time"
)

// RMSVAD is the Local VAD of §4.7: a pure RMS-threshold detector over PCM16
// little-endian frames, integrated by the Turn Controller into a consecutive-
// frame confirmation count (§4.4 detector 1).
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewRMSVAD creates an RMS-based VAD. threshold and minConfirmed default to
// the spec's literal values (1000, 7) when zero.
func NewRMSVAD(threshold float64, minConfirmed int, silenceLimit time.Duration) *RMSVAD {
	if threshold == 0 {
		threshold = 1000
	}
	if minConfirmed == 0 {
		minConfirmed = 7
	}
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: minConfirmed,
	}
}

func (v *RMSVAD) SetMinConfirmed(count int) { v.minConfirmed = count }
func (v *RMSVAD) MinConfirmed() int         { return v.minConfirmed }
func (v *RMSVAD) SetThreshold(threshold float64) { v.threshold = threshold }
func (v *RMSVAD) Threshold() float64        { return v.threshold }
func (v *RMSVAD) LastRMS() float64          { return v.lastRMS }
func (v *RMSVAD) IsSpeaking() bool          { return v.isSpeaking }

// Process implements §4.4 detector 1 and the VADState invariant in §8:
// "a single frame ≤ threshold between two qualifying frames resets the
// count to zero". silenceLimit-based SPEECH_END detection is retained for
// standalone use: it is active only when a caller passes a non-zero
// silenceLimit, and both engine variants pass 0.
func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking && v.silenceLimit > 0 {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string { return "rms_vad" }

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}

// calculateRMS computes rms = sqrt(Σ sₙ² / N) over a PCM16LE frame (§4.7).
func calculateRMS(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8)
		f := float64(sample)
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
