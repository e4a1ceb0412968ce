package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessor 图像预处理接口
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 降噪处理器
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// 对比度处理器
type ContrastProcessor struct {
	percentage float64
}

func NewContrastProcessor(percentage float64) *ContrastProcessor {
	return &ContrastProcessor{percentage: percentage}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.percentage), nil
}

// FitProcessor downsizes images whose longest side exceeds maxDimension.
// Photos straight from a phone camera are far larger than the model needs.
type FitProcessor struct {
	maxDimension int
}

func NewFitProcessor(maxDimension int) *FitProcessor {
	return &FitProcessor{maxDimension: maxDimension}
}

func (p *FitProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	if p.maxDimension <= 0 || (b.Dx() <= p.maxDimension && b.Dy() <= p.maxDimension) {
		return img, nil
	}
	return imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos), nil
}
