// Package agent wires the extraction model and its image preprocessing from configuration.
package agent

import (
	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/agent/image"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type Factory struct {
	streamer  gemini.Streamer
	model     *config.GeminiConfig
	generator *gemini.Generator
	logger    logger.Logger
}

// NewFactory builds the generator once. With preprocess set every image
// goes through the default preprocessing pipeline first.
func NewFactory(streamer gemini.Streamer, model *config.GeminiConfig, preprocess bool, log logger.Logger) *Factory {
	var preparer gemini.Preparer
	if preprocess {
		preparer = image.NewPipeline(image.DefaultPreprocessConfig(), log.Named("preprocess"))
	}

	log.Info("Generator initialized",
		logger.String("model", model.Model),
		logger.Bool("preprocess", preprocess),
		logger.Bool("apiKeyConfigured", model.APIKey != ""),
	)

	return &Factory{
		streamer:  streamer,
		model:     model,
		generator: gemini.NewGenerator(streamer, preparer, log.Named("gemini")),
		logger:    log,
	}
}

func (f *Factory) Generator() *gemini.Generator {
	return f.generator
}

// Request builds an extraction request from the configured key, model, prompt and schema.
func (f *Factory) Request(files []models.FileSource) *gemini.Request {
	return &gemini.Request{
		APIKey: f.model.APIKey,
		Model:  f.model.Model,
		Files:  files,
		Prompt: f.model.Prompt,
		Schema: f.model.Schema,
	}
}

// Schema parses the configured response schema.
func (f *Factory) Schema() (*genai.Schema, error) {
	return gemini.ParseSchema(f.model.Schema)
}
