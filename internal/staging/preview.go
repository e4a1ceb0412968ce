package staging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Previewer renders a data URL preview for a staged image.
type Previewer interface {
	Preview(content []byte, mimeType string) (string, error)
}

// ThumbnailPreviewer downsizes the image to fit a Size x Size box and returns it as a JPEG data URL.
type ThumbnailPreviewer struct {
	Size    int
	Quality int
}

func NewThumbnailPreviewer(size int) *ThumbnailPreviewer {
	if size <= 0 {
		size = 256
	}
	return &ThumbnailPreviewer{Size: size, Quality: 80}
}

func (p *ThumbnailPreviewer) Preview(content []byte, mimeType string) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}

	thumb := imaging.Fit(img, p.Size, p.Size, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, thumb, &jpeg.Options{Quality: p.Quality}); err != nil {
		return "", fmt.Errorf("failed to encode preview: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
