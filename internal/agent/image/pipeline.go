// Package image prepares invoice photos before they are sent to the model.
package image

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/remi2ai/pkg/logger"
)

type PreprocessConfig struct {
	MaxDimension    int
	Grayscale       bool
	Contrast        float64
	Denoise         bool
	DenoiseStrength float64
	Sharpen         bool
	SharpenStrength float64
	JPEGQuality     int
}

func DefaultPreprocessConfig() *PreprocessConfig {
	return &PreprocessConfig{
		MaxDimension:    2048,
		Grayscale:       false,
		Contrast:        15,
		Denoise:         false,
		DenoiseStrength: 0.5,
		Sharpen:         true,
		SharpenStrength: 0.8,
		JPEGQuality:     90,
	}
}

// Pipeline decodes an image, runs the configured steps and re-encodes it as JPEG.
type Pipeline struct {
	steps   []Preprocessor
	quality int
	logger  logger.Logger
}

func NewPipeline(cfg *PreprocessConfig, log logger.Logger) *Pipeline {
	if cfg == nil {
		cfg = DefaultPreprocessConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	// 顺序: 缩放 -> 灰度 -> 对比度 -> 降噪 -> 锐化
	steps := []Preprocessor{NewFitProcessor(cfg.MaxDimension)}
	if cfg.Grayscale {
		steps = append(steps, NewGrayscaleProcessor())
	}
	if cfg.Contrast != 0 {
		steps = append(steps, NewContrastProcessor(cfg.Contrast))
	}
	if cfg.Denoise {
		steps = append(steps, NewDenoiseProcessor(cfg.DenoiseStrength))
	}
	if cfg.Sharpen {
		steps = append(steps, NewSharpenProcessor(cfg.SharpenStrength))
	}

	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Pipeline{steps: steps, quality: quality, logger: log}
}

// Prepare returns the processed image bytes and their MIME type.
func (p *Pipeline) Prepare(data []byte, mimeType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}

	for _, step := range p.steps {
		img, err = step.Process(img)
		if err != nil {
			return nil, "", fmt.Errorf("preprocess step %T failed: %w", step, err)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	p.logger.Debug("Image preprocessed",
		logger.String("sourceType", mimeType),
		logger.Int("sourceBytes", len(data)),
		logger.Int("preparedBytes", buf.Len()),
	)
	return buf.Bytes(), "image/jpeg", nil
}
