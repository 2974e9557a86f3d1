// Package config loads the process's environment-variable-driven
// configuration (§6): provider selection, credentials, and the two-file
// system prompt, following the teacher's godotenv-plus-os.Getenv
// convention (cmd/agent/main.go) rather than a struct-tag binding library.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// Config is the fully-resolved process configuration: every credential,
// provider selector, and tunable the composition root needs to build an
// Engine or DuplexEngine.
type Config struct {
	ListenAddr    string
	MetricsAddr   string
	Env           string

	SystemPrompt string

	Engine orchestrator.EngineVariant

	STTProvider string
	LLMProvider string
	TTSProvider string

	GroqKey       string
	OpenAIKey     string
	AnthropicKey  string
	GoogleKey     string
	DeepgramKey   string
	AssemblyAIKey string
	ElevenLabsKey string
	KokoroBaseURL string
	KokoroVoice   string

	LLMBaseURL string
	LLMModel   string

	Orchestrator orchestrator.Config
}

// Load reads .env (silently absent outside development, per the teacher's
// pattern) and resolves every selector and credential from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file; system environment variables are used as-is.
	}

	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		Env:         getEnv("ENV", "development"),

		STTProvider: getEnv("STT_PROVIDER", "deepgram"),
		LLMProvider: getEnv("LLM_PROVIDER", "groq"),
		TTSProvider: getEnv("TTS_PROVIDER", "elevenlabs"),

		GroqKey:       os.Getenv("GROQ_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),
		KokoroBaseURL: getEnv("KOKORO_BASE_URL", "http://localhost:8880"),
		KokoroVoice:   getEnv("KOKORO_VOICE", "af_heart"),

		LLMBaseURL: os.Getenv("LLM_BASE_URL"),
		LLMModel:   getEnv("LLM_MODEL", "llama-3.3-70b-versatile"),
	}

	cfg.Orchestrator = orchestrator.DefaultConfig()
	if lang := os.Getenv("AGENT_LANGUAGE"); lang != "" {
		cfg.Orchestrator.Language = orchestrator.Language(lang)
	}
	if v := os.Getenv("VOICE"); v != "" {
		cfg.Orchestrator.VoiceStyle = orchestrator.Voice(v)
	}

	requested := orchestrator.EngineVariant(getEnv("ENGINE", string(orchestrator.EngineDeepgramPipeline)))
	cfg.Engine = requested
	if requested == orchestrator.EngineDeepgramPipeline && !cfg.hasFullPipelineCredentials() {
		// §6: "Missing required keys for a variant falls back to the duplex
		// variant."
		cfg.Engine = orchestrator.EngineGeminiLive
	}
	cfg.Orchestrator.Engine = cfg.Engine

	cfg.SystemPrompt = loadSystemPrompt(
		getEnv("SYSTEM_PROMPT_BASE_FILE", "prompts/persona.txt"),
		getEnv("SYSTEM_PROMPT_INSTRUCTIONS_FILE", "prompts/instructions.txt"),
	)

	return cfg, nil
}

// hasFullPipelineCredentials reports whether the STT/LLM/TTS credentials the
// selected deepgram_pipeline providers need are all present.
func (c *Config) hasFullPipelineCredentials() bool {
	if !c.sttConfigured() {
		return false
	}
	if !c.llmConfigured() {
		return false
	}
	return c.ttsConfigured()
}

// sttConfigured reports whether the selected STT provider both has its
// credential present and implements StreamingSTTProvider: the
// deepgram_pipeline engine needs a duplex recognizer session (§4.3), which
// rules out the batch-only openai/groq transcription providers even though
// they satisfy the plain STTProvider interface.
func (c *Config) sttConfigured() bool {
	switch c.STTProvider {
	case "deepgram":
		return c.DeepgramKey != ""
	case "assemblyai":
		return c.AssemblyAIKey != ""
	case "google":
		return true
	default:
		return false
	}
}

func (c *Config) llmConfigured() bool {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIKey != ""
	case "anthropic":
		return c.AnthropicKey != ""
	case "google":
		return c.GoogleKey != ""
	case "groq":
		return c.GroqKey != ""
	default:
		return false
	}
}

func (c *Config) ttsConfigured() bool {
	switch c.TTSProvider {
	case "elevenlabs":
		return c.ElevenLabsKey != ""
	case "kokoro":
		return c.KokoroBaseURL != ""
	default:
		return false
	}
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// loadSystemPrompt concatenates the base persona file with the
// per-deployment instructions file (§6). A missing file contributes
// nothing rather than failing process start.
func loadSystemPrompt(baseFile, instructionsFile string) string {
	var parts []string
	if text, err := os.ReadFile(baseFile); err == nil {
		parts = append(parts, strings.TrimSpace(string(text)))
	}
	if text, err := os.ReadFile(instructionsFile); err == nil {
		parts = append(parts, strings.TrimSpace(string(text)))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
