// Package adjust applies per-channel brightness and contrast.
package adjust

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"rgb-aligner/internal/channel"
)

// Limit bounds both brightness and contrast.
const Limit = 100

// Params is a brightness/contrast pair. Contrast scales samples by
// (1 + Contrast/100); Brightness is added afterwards.
type Params struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
}

// Validate checks both values are within [-Limit, Limit].
func (p Params) Validate() error {
	if p.Brightness < -Limit || p.Brightness > Limit {
		return fmt.Errorf("brightness %g outside [-%d, %d]", p.Brightness, Limit, Limit)
	}
	if p.Contrast < -Limit || p.Contrast > Limit {
		return fmt.Errorf("contrast %g outside [-%d, %d]", p.Contrast, Limit, Limit)
	}
	return nil
}

// IsIdentity reports whether Apply would return an unchanged copy.
func (p Params) IsIdentity() bool {
	return p.Brightness == 0 && p.Contrast == 0
}

// Apply returns a new image with out = clip(in*(1+contrast/100) + brightness),
// truncated to 8 bits. A nil or empty image yields nil.
func Apply(img *image.Gray, p Params) *image.Gray {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	src := channel.Normalize(img)
	if p.IsIdentity() {
		return channel.Clone(src)
	}

	var lut [256]uint8
	gain := 1 + p.Contrast/100
	for v := range lut {
		f := float64(v)*gain + p.Brightness
		switch {
		case f <= 0:
			lut[v] = 0
		case f >= 255:
			lut[v] = 255
		default:
			lut[v] = uint8(f)
		}
	}

	b := src.Bounds()
	dst := image.NewGray(b)
	w := b.Dx()

	// Process in horizontal stripes.
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (b.Dy() + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		yStart := worker * rowsPerWorker
		yEnd := min(yStart+rowsPerWorker, b.Dy())
		if yStart >= yEnd {
			break
		}
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				in := src.Pix[y*src.Stride : y*src.Stride+w]
				out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
				for x, v := range in {
					out[x] = lut[v]
				}
			}
		}(yStart, yEnd)
	}
	wg.Wait()

	return dst
}
