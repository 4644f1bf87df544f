package channel

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// JPEGQuality is the quality used for JPEG output.
const JPEGQuality = 95

// Load decodes a channel image from path and converts it to greyscale.
// Camera RAW files are developed through ImageMagick.
func Load(path string) (*image.Gray, error) {
	if !IsSupportedFormat(path) {
		return nil, fmt.Errorf("unsupported input format %q for %s (supported: %s)",
			filepath.Ext(path), filepath.Base(path), strings.Join(SupportedFormats(), " "))
	}
	if IsRaw(path) {
		return loadRaw(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}

	return ToGray(img), nil
}

// Save writes img to path; the format follows the file extension (PNG,
// TIFF or JPEG).
func Save(path string, img *image.Gray) error {
	if img == nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), ErrMissingChannel)
	}
	return writeImage(path, img)
}

// SaveColor writes a combined colour image the same way Save writes a
// channel.
func SaveColor(path string, img *image.NRGBA) error {
	if img == nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), ErrMissingChannel)
	}
	return writeImage(path, img)
}

func writeImage(path string, img image.Image) error {
	var encode func(*os.File) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		encode = func(f *os.File) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
		}
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error {
			return jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality})
		}
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	if err := encode(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

// SupportedFormats returns the list of supported input extensions.
func SupportedFormats() []string {
	return append([]string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}, RawFormats()...)
}

// RawFormats returns the camera RAW extensions handled by ImageMagick.
func RawFormats() []string {
	return []string{".arw", ".cr2", ".nef", ".dng", ".raf", ".orf"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	return hasExt(path, SupportedFormats())
}

// IsRaw reports whether path names a camera RAW file.
func IsRaw(path string) bool {
	return hasExt(path, RawFormats())
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
