// Command server is the HTTP/websocket composition root (§6): it loads
// configuration, selects and constructs the STT/LLM/TTS providers, and
// serves one Session per connected client, following the chi-router-plus-
// websocket-upgrade shape of saisudhir14-ai-voice-agent's cmd/server and
// replacing the teacher's local-microphone cmd/agent entry point, since the
// spec's external interface is a client duplex channel rather than a CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lokutor-ai/voxrelay/pkg/config"
	"github.com/lokutor-ai/voxrelay/pkg/logging"
	"github.com/lokutor-ai/voxrelay/pkg/metrics"
	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/voxrelay/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voxrelay/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voxrelay/pkg/providers/tts"
	"github.com/lokutor-ai/voxrelay/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: ", err)
		os.Exit(1)
	}

	root := logging.NewAdapter(logging.New(cfg.IsDevelopment())).WithComponent("server")
	root.Info("starting voxrelay", "engine", string(cfg.Engine), "stt", cfg.STTProvider, "llm", cfg.LLMProvider, "tts", cfg.TTSProvider)

	reg := metrics.Registry()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/ws", wsHandler(cfg, root))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			root.Error("server stopped", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	root.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func wsHandler(cfg *config.Config, logger *logging.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: cfg.IsDevelopment(),
		})
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}

		sessionID := uuid.New().String()
		sessLogger := logger.WithSessionID(sessionID)
		metrics.SessionStarted()
		defer metrics.SessionEnded()

		engine, err := buildEngine(r.Context(), cfg, sessLogger)
		if err != nil {
			sessLogger.Error("failed to build engine", "error", err)
			conn.Close(websocket.StatusInternalError, "engine construction failed")
			return
		}
		engine.InstallSystemPrompt(cfg.SystemPrompt)

		session := orchestrator.NewSession(&wsConn{conn: conn}, engine, sessLogger)

		sessLogger.Info("session started")
		if err := session.Run(r.Context()); err != nil {
			sessLogger.Warn("session ended", "error", err)
		} else {
			sessLogger.Info("session ended")
		}
	}
}

// wsConn adapts a coder/websocket connection to orchestrator.Conn (§4.1):
// binary frames are PCM16LE audio, text frames are JSON control frames.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, bool, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageText, nil
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// buildEngine constructs the provider set named by cfg and wires it behind
// either the full deepgram_pipeline Engine or the gemini_live DuplexEngine,
// mirroring the provider-selection switch of the teacher's cmd/agent/main.go
// generalized across the three provider families it builds: STT, LLM and
// TTS (§11).
func buildEngine(ctx context.Context, cfg *config.Config, logger *logging.Adapter) (orchestrator.SessionEngine, error) {
	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tts := buildTTS(cfg)

	if cfg.Engine == orchestrator.EngineGeminiLive {
		stt, err := buildStreamingSTT(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return orchestrator.NewDuplexEngine(stt, llm, tts, cfg.Orchestrator, logger), nil
	}

	stt, err := buildStreamingSTT(ctx, cfg)
	if err != nil {
		return nil, err
	}
	registry := orchestrator.NewToolRegistry()
	tools.RegisterTime(registry)

	deps := orchestrator.EngineDeps{
		STT:    stt,
		LLM:    llm,
		TTS:    tts,
		Tools:  registry,
		Config: cfg.Orchestrator,
		Logger: logger,
	}
	return orchestrator.NewEngine(deps), nil
}

func buildStreamingSTT(ctx context.Context, cfg *config.Config) (orchestrator.StreamingSTTProvider, error) {
	switch cfg.STTProvider {
	case "assemblyai":
		return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIKey), nil
	case "google":
		return sttProvider.NewGoogleSTT(ctx)
	case "deepgram":
		fallthrough
	default:
		return sttProvider.NewDeepgram(cfg.DeepgramKey), nil
	}
}

func buildLLM(ctx context.Context, cfg *config.Config) (orchestrator.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llmProvider.NewOpenAI(cfg.OpenAIKey, cfg.LLMModel), nil
	case "anthropic":
		return llmProvider.NewAnthropic(cfg.AnthropicKey, cfg.LLMModel), nil
	case "google":
		return llmProvider.NewGoogle(ctx, cfg.GoogleKey, cfg.LLMModel)
	case "groq":
		fallthrough
	default:
		return llmProvider.NewGroq(cfg.GroqKey, cfg.LLMModel), nil
	}
}

func buildTTS(cfg *config.Config) orchestrator.TTSProvider {
	switch cfg.TTSProvider {
	case "kokoro":
		return ttsProvider.NewKokoroTTS(cfg.KokoroBaseURL, cfg.KokoroVoice)
	case "elevenlabs":
		fallthrough
	default:
		return ttsProvider.NewElevenLabsTTS(cfg.ElevenLabsKey)
	}
}
