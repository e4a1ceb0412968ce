package agent

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type nopStreamer struct{}

func (nopStreamer) Stream(ctx context.Context, req *gemini.StreamRequest) iter.Seq2[gemini.Fragment, error] {
	return func(yield func(gemini.Fragment, error) bool) {}
}

func TestFactoryRequestUsesConfig(t *testing.T) {
	cfg := &config.GeminiConfig{
		APIKey: "k",
		Model:  "gemini-2.5-pro",
		Prompt: "p",
		Schema: `{"type":"object","properties":{"title":{"type":"string"}}}`,
	}
	log := logger.NewTestLogger()
	f := NewFactory(nopStreamer{}, cfg, true, log)

	files := []models.FileSource{{Name: "a.png"}}
	req := f.Request(files)
	assert.Equal(t, "k", req.APIKey)
	assert.Equal(t, "gemini-2.5-pro", req.Model)
	assert.Equal(t, "p", req.Prompt)
	assert.Equal(t, files, req.Files)
	assert.NotNil(t, f.Generator())
	assert.True(t, log.HasMessage("INFO", "Generator initialized"))

	schema, err := f.Schema()
	require.NoError(t, err)
	assert.Contains(t, schema.Properties, "title")
}
