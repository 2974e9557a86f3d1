package orchestrator

import "context"

// TTSStreamer wraps a TTSProvider with the AudioOutBuffer rebuffering
// described in §3 and §4.6: the provider's raw chunks are accumulated and
// only flushed to the caller once they reach the target size (or the
// sentence's stream ends, allowing a final small trailing frame).
type TTSStreamer struct {
	provider    TTSProvider
	targetBytes int
}

func NewTTSStreamer(provider TTSProvider, targetBytes int) *TTSStreamer {
	if targetBytes <= 0 {
		targetBytes = 4096
	}
	return &TTSStreamer{provider: provider, targetBytes: targetBytes}
}

// Stream synthesizes sentence and invokes onFrame for each rebuffered
// frame (≥ targetBytes, small trailing frame allowed). Provider errors
// yield whatever has been buffered so far and return nil so the turn can
// terminate cleanly (§4.6: "Errors yield an empty tail and return normally").
func (t *TTSStreamer) Stream(ctx context.Context, sentence string, voice Voice, lang Language, onFrame func([]byte) error) error {
	var buf []byte
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		err := onFrame(buf)
		buf = nil
		return err
	}

	err := t.provider.StreamSynthesize(ctx, sentence, voice, lang, func(chunk []byte) error {
		buf = append(buf, chunk...)
		if len(buf) >= t.targetBytes {
			return flush()
		}
		return nil
	})
	if err != nil {
		// Provider failed mid-stream: still flush whatever was buffered and
		// return cleanly (§4.6).
		_ = flush()
		return nil
	}
	return flush()
}

func (t *TTSStreamer) Abort() error {
	return t.provider.Abort()
}
