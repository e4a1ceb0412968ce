package config

import (
	"sync"
)

var (
	geminiOnce   sync.Once
	geminiConfig *GeminiConfig
)

// GeminiConfig holds the generative model settings. Schema is the raw JSON text of the response schema.
type GeminiConfig struct {
	APIKey string
	Model  string
	Prompt string
	Schema string
}

func GetGeminiConfig() *GeminiConfig {
	geminiOnce.Do(func() {
		loadEnv()

		geminiConfig = &GeminiConfig{
			APIKey: getString("AI_API_KEY", ""),
			Model:  getString("MODEL_NAME", "gemini-2.5-flash"),
			Prompt: getString("PROMPT", ""),
			Schema: getString("STRUCTURED_OUTPUT_SCHEMA", ""),
		}
	})
	return geminiConfig
}
