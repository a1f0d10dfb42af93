// Package models holds the data that travels with a call but isn't part
// of the pure state machine's CallState (spec.md §3).
package models

import "os"

// AgentProfile is the static, per-process configuration for the voice
// agent a call talks to. The teacher's Agent was a DB row scoped to a
// user and an industry, supporting many agents per tenant; this system
// is explicitly not multi-tenant (spec.md §1 Non-goals), so one profile
// loaded from the environment at startup is sufficient and there is no
// database behind it.
type AgentProfile struct {
	Name        string
	VoiceID     string
	SystemPrompt string
	Greeting    string
	LLMModel    string
	Temperature float64
	MaxTokens   int
}

// DefaultAgentProfile builds the profile used for every call this
// process handles, from environment overrides with sensible defaults.
func DefaultAgentProfile() AgentProfile {
	return AgentProfile{
		Name:         getEnv("AGENT_NAME", "Assistant"),
		VoiceID:      getEnv("TTS_VOICE_ID", "a0e99841-438c-4a64-b679-ae501e7d6091"),
		SystemPrompt: getEnv("AGENT_SYSTEM_PROMPT", defaultSystemPrompt),
		Greeting:     getEnv("AGENT_GREETING", "Hi there, how can I help you today?"),
		LLMModel:     getEnv("AGENT_LLM_MODEL", "claude-3-haiku-20240307"),
		Temperature:  0.7,
		MaxTokens:    500,
	}
}

const defaultSystemPrompt = "You are a helpful voice assistant. Keep your responses " +
	"concise and conversational, as they will be spoken aloud. Avoid markdown, " +
	"bullet points, or other formatting that doesn't work well in speech."

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
