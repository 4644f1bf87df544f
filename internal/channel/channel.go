// Package channel provides the single-component channel images that make up
// a tri-colour capture, and their loading and saving.
package channel

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// Index identifies one colour band of a tri-colour capture.
type Index int

const (
	Red Index = iota
	Green
	Blue
)

// Reference is the channel every other channel is aligned to.
const Reference = Red

// Count is the number of channels in a Triple.
const Count = 3

func (i Index) String() string {
	switch i {
	case Red:
		return "Red"
	case Green:
		return "Green"
	case Blue:
		return "Blue"
	default:
		return fmt.Sprintf("Index(%d)", int(i))
	}
}

// Valid reports whether i names one of the three channels.
func (i Index) Valid() bool {
	return i >= Red && i <= Blue
}

// Targets returns the channels that are aligned to the reference, in order.
func Targets() []Index {
	return []Index{Green, Blue}
}

// Triple is an ordered (R, G, B) set of channel images.
type Triple [Count]*image.Gray

// ErrMissingChannel is returned when a Triple has a nil or empty member.
var ErrMissingChannel = errors.New("missing channel image")

// Validate checks that every channel is present and non-empty. Dimensions
// may differ between channels.
func (t Triple) Validate() error {
	for i, img := range t {
		if img == nil || img.Bounds().Empty() {
			return fmt.Errorf("%s: %w", Index(i), ErrMissingChannel)
		}
	}
	return nil
}

// Complete reports whether all three channels are present.
func (t Triple) Complete() bool {
	return t.Validate() == nil
}

// Size returns the width and height of channel i, or zeros if it is missing.
func (t Triple) Size(i Index) (int, int) {
	if !i.Valid() || t[i] == nil {
		return 0, 0
	}
	b := t[i].Bounds()
	return b.Dx(), b.Dy()
}

// Clone deep-copies every present channel.
func (t Triple) Clone() Triple {
	var out Triple
	for i, img := range t {
		out[i] = Clone(img)
	}
	return out
}

// ToGray converts any image to an 8-bit greyscale image whose bounds start
// at the origin, using the standard luminance weights.
func ToGray(img image.Image) *image.Gray {
	if img == nil {
		return nil
	}
	if g, ok := img.(*image.Gray); ok {
		return Normalize(g)
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Normalize returns img unchanged when its bounds start at the origin and
// a compact copy otherwise.
func Normalize(img *image.Gray) *image.Gray {
	if img == nil {
		return nil
	}
	if img.Rect.Min == (image.Point{}) {
		return img
	}
	return Clone(img)
}

// Clone returns a compact copy of img with bounds starting at the origin.
func Clone(img *image.Gray) *image.Gray {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src[:b.Dx()])
	}
	return dst
}

// Equal reports whether two images have the same size and identical
// samples.
func Equal(a, b *image.Gray) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return false
	}
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			if a.GrayAt(ab.Min.X+x, ab.Min.Y+y) != b.GrayAt(bb.Min.X+x, bb.Min.Y+y) {
				return false
			}
		}
	}
	return true
}

// Combine interleaves a complete triple into one opaque colour image. Every
// channel must have the size of the red one.
func Combine(t Triple) (*image.NRGBA, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	w, h := t.Size(Red)
	for _, idx := range Targets() {
		if cw, ch := t.Size(idx); cw != w || ch != h {
			return nil, fmt.Errorf("%s channel is %dx%d, want %dx%d", idx, cw, ch, w, h)
		}
	}

	r, g, b := Normalize(t[Red]), Normalize(t[Green]), Normalize(t[Blue])
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		ri, gi, bi := y*r.Stride, y*g.Stride, y*b.Stride
		for x := 0; x < w; x++ {
			row[x*4+0] = r.Pix[ri+x]
			row[x*4+1] = g.Pix[gi+x]
			row[x*4+2] = b.Pix[bi+x]
			row[x*4+3] = 0xff
		}
	}
	return dst, nil
}
