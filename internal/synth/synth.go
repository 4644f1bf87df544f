// Package synth renders deterministic greyscale test scenes.
package synth

import (
	"image"
	"image/color"
	"math/rand"
)

// Texture renders a scene of overlapping rectangles and discs over a soft
// gradient. The same seed always yields the same pixels.
func Texture(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8(60 + 60*x/w + 30*y/h)
		}
	}

	shapes := w * h / 1200
	for k := 0; k < shapes; k++ {
		size := 6 + rng.Intn(34)
		x0 := rng.Intn(w)
		y0 := rng.Intn(h)
		v := color.Gray{Y: uint8(rng.Intn(256))}
		if rng.Intn(2) == 0 {
			fillRect(img, image.Rect(x0, y0, x0+size, y0+size*(1+rng.Intn(3))/2), v)
		} else {
			fillDisc(img, x0, y0, size/2, v)
		}
	}

	return boxBlur(img)
}

// Noise renders uniformly distributed samples with no structure.
func Noise(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

// Flat renders an image with every sample set to v.
func Flat(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func fillRect(img *image.Gray, r image.Rectangle, v color.Gray) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, v)
		}
	}
}

func fillDisc(img *image.Gray, cx, cy, radius int, v color.Gray) {
	r2 := radius * radius
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 && image.Pt(x, y).In(img.Bounds()) {
				img.SetGray(x, y, v)
			}
		}
	}
}

// boxBlur applies a 3x3 mean filter, clamping at the borders.
func boxBlur(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := image.Pt(x+dx, y+dy)
					if p.In(b) {
						sum += int(src.GrayAt(p.X, p.Y).Y)
						n++
					}
				}
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(sum / n)})
		}
	}
	return dst
}
