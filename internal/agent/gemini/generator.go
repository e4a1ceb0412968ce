// Package gemini runs the streaming structured-extraction call against Gemini.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

// Request is everything one extraction needs. Schema is the raw JSON schema text.
type Request struct {
	APIKey string
	Model  string
	Files  []models.FileSource
	Prompt string
	Schema string
}

// Preparer optionally rewrites an image before it is inlined.
type Preparer interface {
	Prepare(data []byte, mimeType string) ([]byte, string, error)
}

type Generator struct {
	streamer Streamer
	preparer Preparer
	logger   logger.Logger
}

func NewGenerator(streamer Streamer, preparer Preparer, log logger.Logger) *Generator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Generator{
		streamer: streamer,
		preparer: preparer,
		logger:   log,
	}
}

// Generate streams the extraction and returns the final JSON text verbatim.
//
// When updates is non-nil a cumulative Snapshot is sent after every fragment
// and the channel is closed when Generate returns. The next fragment is not
// pulled until the send completed.
func (g *Generator) Generate(ctx context.Context, req *Request, updates chan<- Snapshot) (string, error) {
	if updates != nil {
		defer close(updates)
	}

	schema, err := g.checkPreconditions(req)
	if err != nil {
		return "", err
	}
	log := logger.FromContext(ctx, g.logger)

	parts, err := g.buildParts(ctx, req.Files)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: append([]*genai.Part{genai.NewPartFromText(req.Prompt)}, parts...),
	}}

	log.Info("Starting generation stream",
		logger.String("model", req.Model),
		logger.Int("files", len(req.Files)),
	)

	stream := g.streamer.Stream(ctx, &StreamRequest{
		APIKey:   req.APIKey,
		Model:    req.Model,
		Contents: contents,
		Config: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
			ThinkingConfig:   &genai.ThinkingConfig{IncludeThoughts: true},
		},
	})

	var thoughts, outputs []string
	for frag, err := range stream {
		if err != nil {
			log.Error("Generation stream failed", logger.Error(err))
			return "", apperr.Wrap(apperr.KindGenerationFailed, err)
		}

		switch frag.Kind {
		case FragmentThought:
			thoughts = append(thoughts, frag.Text)
		default:
			// blank fragments still produce a snapshot, an unchanged one
			if text := strings.TrimSpace(frag.Text); text != "" {
				outputs = append(outputs, text)
			}
		}

		if updates != nil {
			snap := Snapshot{
				Thoughts: append([]string(nil), thoughts...),
				Outputs:  append([]string(nil), outputs...),
			}
			select {
			case updates <- snap:
			case <-ctx.Done():
				return "", apperr.Wrap(apperr.KindGenerationFailed, ctx.Err())
			}
		}
	}

	final := strings.Join(outputs, "")
	log.Info("Generation stream finished",
		logger.Int("thoughtFragments", len(thoughts)),
		logger.Int("outputFragments", len(outputs)),
	)

	if final == "" {
		return "", apperr.New(apperr.KindNoStructuredOutput, "thoughts", len(thoughts))
	}
	if !json.Valid([]byte(final)) {
		return "", apperr.New(apperr.KindInvalidJSON, "message", "model output is not valid JSON")
	}
	return final, nil
}

func (g *Generator) checkPreconditions(req *Request) (*genai.Schema, error) {
	if req == nil || strings.TrimSpace(req.APIKey) == "" {
		return nil, apperr.New(apperr.KindMissingAPIKey)
	}
	if len(req.Files) == 0 {
		return nil, apperr.New(apperr.KindNoFiles)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperr.New(apperr.KindEmptyPrompt)
	}
	return ParseSchema(req.Schema)
}

// buildParts reads every file concurrently and returns inline parts in input order.
func (g *Generator) buildParts(ctx context.Context, files []models.FileSource) ([]*genai.Part, error) {
	parts := make([]*genai.Part, len(files))

	eg, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		eg.Go(func() error {
			data, mimeType, err := g.readFile(ctx, f)
			if err != nil {
				return apperr.Wrap(apperr.KindStorageFailed, err, "fileName", f.Name)
			}
			parts[i] = genai.NewPartFromBytes(data, mimeType)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (g *Generator) readFile(ctx context.Context, f models.FileSource) ([]byte, string, error) {
	if f.Open == nil {
		return nil, "", fmt.Errorf("file %s has no content", f.Name)
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", f.Name, err)
	}

	if g.preparer == nil {
		return data, f.MIMEType, nil
	}
	prepared, mimeType, err := g.preparer.Prepare(data, f.MIMEType)
	if err != nil {
		g.logger.Warn("Preprocessing failed, sending original image",
			logger.String("file", f.Name),
			logger.Error(err),
		)
		return data, f.MIMEType, nil
	}
	return prepared, mimeType, nil
}
