package channel

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// ImageMagick is initialised once for the life of the process; each load
// works on its own wand.
var magickOnce sync.Once

// loadRaw develops a camera RAW file with ImageMagick's default pipeline and
// exports it as 8-bit luminance.
func loadRaw(path string) (*image.Gray, error) {
	magickOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read RAW file %s: %w", filepath.Base(path), err)
	}
	if err := mw.TransformImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, fmt.Errorf("failed to convert %s to grey: %w", filepath.Base(path), err)
	}

	width := mw.GetImageWidth()
	height := mw.GetImageHeight()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("RAW file %s has no pixels", filepath.Base(path))
	}

	pixels, err := mw.ExportImagePixels(0, 0, width, height, "I", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filepath.Base(path), err)
	}
	data, ok := pixels.([]byte)
	if !ok || len(data) != int(width*height) {
		return nil, fmt.Errorf("unexpected pixel export from %s", filepath.Base(path))
	}

	img := image.NewGray(image.Rect(0, 0, int(width), int(height)))
	copy(img.Pix, data)
	return img, nil
}
