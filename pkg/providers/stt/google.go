package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// GoogleSTT is the StreamingSTTProvider selected by STT_PROVIDER=google,
// for either engine variant (§2, §11): a real gRPC-streaming
// client against Cloud Speech-to-Text v1, demonstrating the engine's
// STT-adapter abstraction is transport-agnostic across a third kind of
// connection (gRPC rather than a raw websocket).
type GoogleSTT struct {
	client     *speech.Client
	sampleRate int32
}

func NewGoogleSTT(ctx context.Context) (*GoogleSTT, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	return &GoogleSTT{client: client, sampleRate: 16000}, nil
}

func (s *GoogleSTT) Name() string { return "google" }

// Transcribe is the batch STTProvider path (§4.1), a single synchronous
// Recognize call over the same client used for streaming.
func (s *GoogleSTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	langCode := string(lang)
	if langCode == "" {
		langCode = "en-US"
	}
	resp, err := s.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: s.sampleRate,
			LanguageCode:    langCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioPCM},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google stt: recognize: %w", err)
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return "", orchestrator.ErrEmptyTranscription
	}
	return resp.Results[0].Alternatives[0].Transcript, nil
}

// Connect opens a StreamingRecognize session (§4.3). Cloud Speech v1 has no
// Deepgram-style speech_started/utterance_end signal events of its own;
// this adapter synthesizes an utterance_end immediately after every final
// result, preserving §4.3's ordering guarantee ("utterance_end always
// follows the is_final=true events for the same utterance"), with the Turn
// Controller's local silence timer remaining the endpointing backstop
// either way (§4.4).
func (s *GoogleSTT) Connect(ctx context.Context, lang orchestrator.Language) (orchestrator.StreamingSTTSession, error) {
	langCode := string(lang)
	if langCode == "" {
		langCode = "en-US"
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("google stt: streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            s.sampleRate,
					LanguageCode:               langCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("google stt: send config: %w", err)
	}

	sess := &googleSTTSession{
		stream: stream,
		cancel: cancel,
		events: make(chan orchestrator.STTEvent, 64),
		done:   make(chan struct{}),
	}
	go sess.readLoop()
	return sess, nil
}

func (s *GoogleSTT) Close() error {
	return s.client.Close()
}

type googleSTTSession struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	events chan orchestrator.STTEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (sess *googleSTTSession) SendAudio(chunk []byte) error {
	select {
	case <-sess.done:
		return orchestrator.ErrStreamDrop
	default:
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
}

// Keepalive is a no-op: Cloud Speech streaming calls are plain gRPC streams
// with no idle-close liveness protocol of their own (§5); the gRPC
// transport's own HTTP/2 keepalive pings cover the connection.
func (sess *googleSTTSession) Keepalive() error { return nil }

func (sess *googleSTTSession) Events() <-chan orchestrator.STTEvent { return sess.events }

func (sess *googleSTTSession) Close() error {
	var err error
	sess.closeOnce.Do(func() {
		close(sess.done)
		err = sess.stream.CloseSend()
		sess.cancel()
	})
	return err
}

func (sess *googleSTTSession) readLoop() {
	defer close(sess.events)
	for {
		resp, err := sess.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case sess.events <- orchestrator.STTEvent{Kind: orchestrator.STTEventError, Reason: orchestrator.Classify(orchestrator.KindStreamDrop, err)}:
			case <-sess.done:
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			ev := orchestrator.STTEvent{
				Kind:    orchestrator.STTEventText,
				Value:   result.Alternatives[0].Transcript,
				IsFinal: result.IsFinal,
			}
			select {
			case sess.events <- ev:
			case <-sess.done:
				return
			}
			if result.IsFinal {
				endEv := orchestrator.STTEvent{Kind: orchestrator.STTEventUtteranceEnd}
				select {
				case sess.events <- endEv:
				case <-sess.done:
					return
				}
			}
		}
	}
}
