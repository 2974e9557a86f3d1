package config

import (
	"os"
	"testing"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STT_PROVIDER", "LLM_PROVIDER", "TTS_PROVIDER", "ENGINE",
		"GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
		"DEEPGRAM_API_KEY", "ASSEMBLYAI_API_KEY", "ELEVENLABS_API_KEY",
		"KOKORO_BASE_URL", "AGENT_LANGUAGE", "VOICE",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadFallsBackToDuplexWithoutCredentials(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine != orchestrator.EngineGeminiLive {
		t.Errorf("Engine = %q, want fallback %q", cfg.Engine, orchestrator.EngineGeminiLive)
	}
}

func TestLoadKeepsPipelineWithFullCredentials(t *testing.T) {
	clearProviderEnv(t)
	os.Setenv("STT_PROVIDER", "deepgram")
	os.Setenv("DEEPGRAM_API_KEY", "dg-test-key")
	os.Setenv("LLM_PROVIDER", "groq")
	os.Setenv("GROQ_API_KEY", "groq-test-key")
	os.Setenv("TTS_PROVIDER", "elevenlabs")
	os.Setenv("ELEVENLABS_API_KEY", "el-test-key")
	defer clearProviderEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine != orchestrator.EngineDeepgramPipeline {
		t.Errorf("Engine = %q, want %q", cfg.Engine, orchestrator.EngineDeepgramPipeline)
	}
}

func TestLoadSystemPromptMissingFilesAreEmpty(t *testing.T) {
	clearProviderEnv(t)
	os.Setenv("SYSTEM_PROMPT_BASE_FILE", "/nonexistent/base.txt")
	os.Setenv("SYSTEM_PROMPT_INSTRUCTIONS_FILE", "/nonexistent/instructions.txt")
	defer os.Unsetenv("SYSTEM_PROMPT_BASE_FILE")
	defer os.Unsetenv("SYSTEM_PROMPT_INSTRUCTIONS_FILE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SystemPrompt != "" {
		t.Errorf("SystemPrompt = %q, want empty when both files are missing", cfg.SystemPrompt)
	}
}
