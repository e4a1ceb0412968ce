package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipelineDownsizesAndEncodesJPEG(t *testing.T) {
	p := NewPipeline(&PreprocessConfig{MaxDimension: 100, Sharpen: true, SharpenStrength: 0.5}, nil)

	out, mimeType, err := p.Prepare(pngOf(t, 400, 200), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestPipelineKeepsSmallImages(t *testing.T) {
	p := NewPipeline(&PreprocessConfig{MaxDimension: 1000, Grayscale: true}, nil)

	out, _, err := p.Prepare(pngOf(t, 40, 30), "image/png")
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, stdimage.Rect(0, 0, 40, 30), img.Bounds())
}

func TestPipelineRejectsGarbage(t *testing.T) {
	_, _, err := NewPipeline(nil, nil).Prepare([]byte("not an image"), "image/png")
	assert.Error(t, err)
}

func TestFitProcessorNil(t *testing.T) {
	_, err := NewFitProcessor(10).Process(nil)
	assert.Error(t, err)
}
