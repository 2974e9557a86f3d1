package orchestrator

import "errors"

// ErrorKind classifies failures per the error-handling design (§7): which
// ones are fatal to the whole session versus recoverable for the current
// turn only.
type ErrorKind string

const (
	KindConnectFailure ErrorKind = "ConnectFailure"
	KindStreamDrop     ErrorKind = "StreamDrop"
	KindTranscodeError ErrorKind = "TranscodeError"
	KindToolError      ErrorKind = "ToolError"
	KindProviderError  ErrorKind = "ProviderError"
)

var (
	// ErrEmptyTranscription is returned when a batch transcription call
	// yields only whitespace.
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	// ErrConnectFailure marks a remote connection attempt that failed at
	// session start; fatal to the session.
	ErrConnectFailure = errors.New("orchestrator: connect failure")

	// ErrStreamDrop marks a remote stream that closed mid-session.
	ErrStreamDrop = errors.New("orchestrator: stream drop")

	// ErrTranscodeError marks a malformed inbound audio frame.
	ErrTranscodeError = errors.New("orchestrator: transcode error")

	// ErrToolError marks a tool execution failure, surfaced back to the
	// model as a tool message, never directly to the user.
	ErrToolError = errors.New("orchestrator: tool error")

	// ErrProviderError is the catch-all per-turn provider failure.
	ErrProviderError = errors.New("orchestrator: provider error")

	// ErrNilProvider signals a required provider was not configured.
	ErrNilProvider = errors.New("orchestrator: required provider is nil")
)

// Classify wraps err with the given kind so callers can later distinguish
// session-fatal from per-turn-recoverable failures with errors.Is.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	switch kind {
	case KindConnectFailure:
		return errWrap(ErrConnectFailure, err)
	case KindStreamDrop:
		return errWrap(ErrStreamDrop, err)
	case KindTranscodeError:
		return errWrap(ErrTranscodeError, err)
	case KindToolError:
		return errWrap(ErrToolError, err)
	default:
		return errWrap(ErrProviderError, err)
	}
}

func errWrap(sentinel, cause error) error {
	return &classifiedError{sentinel: sentinel, cause: cause}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (e *classifiedError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.sentinel
}

// IsSessionFatal reports whether err (a StreamDrop wrapping an STT failure,
// or a ConnectFailure) should tear down the whole session per §7's
// propagation policy. Only the STT providers classify failures as
// StreamDrop; LLM/TTS failures are classified as ProviderError and stay
// per-turn recoverable.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrConnectFailure) || errors.Is(err, ErrStreamDrop)
}
