package orchestrator

import (
	"context"
	"time"
)

// STTAdapter is the duplex bridge of §4.3, wrapping a StreamingSTTProvider
// session with the keepalive loop the remote recognizer requires during
// idle periods (§5 suspension points, §6 "Requires periodic keepalive
// during idle periods").
type STTAdapter struct {
	session           StreamingSTTSession
	keepaliveInterval time.Duration
	logger            Logger

	keepaliveCancel context.CancelFunc
}

func NewSTTAdapter(session StreamingSTTSession, keepaliveInterval time.Duration, logger Logger) *STTAdapter {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &STTAdapter{session: session, keepaliveInterval: keepaliveInterval, logger: logger}
}

// SendAudio is a best-effort forward; send errors are logged, not fatal —
// the recognizer having closed is reported instead through Events().
func (a *STTAdapter) SendAudio(chunk []byte) {
	if err := a.session.SendAudio(chunk); err != nil {
		a.logger.Warn("stt send audio failed", "error", err)
	}
}

// Events returns the lazy tagged event sequence (§4.3).
func (a *STTAdapter) Events() <-chan STTEvent {
	return a.session.Events()
}

// StartKeepalive spawns the keepalive task, pinging the STT every interval
// (§4.4 step 2: "Starts a keepalive task pinging the STT every 5 s").
// Cancelling ctx or calling StopKeepalive stops it; cancellation is
// transitive and idempotent per §5.
func (a *STTAdapter) StartKeepalive(ctx context.Context) {
	kaCtx, cancel := context.WithCancel(ctx)
	a.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(a.keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := a.session.Keepalive(); err != nil {
					a.logger.Warn("stt keepalive failed", "error", err)
				}
			}
		}
	}()
}

// StopKeepalive cancels the keepalive task in a guaranteed-release scope
// (§4.4 step 6). Safe to call multiple times.
func (a *STTAdapter) StopKeepalive() {
	if a.keepaliveCancel != nil {
		a.keepaliveCancel()
		a.keepaliveCancel = nil
	}
}

func (a *STTAdapter) Close() error {
	a.StopKeepalive()
	return a.session.Close()
}
