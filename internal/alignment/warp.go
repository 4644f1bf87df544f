package alignment

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/cvmat"
	"rgb-aligner/pkg/geometry"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Interpolation selects the sampling kernel used when resampling.
type Interpolation int

const (
	InterpBilinear Interpolation = iota
	InterpNearest
	InterpApproxBilinear
	InterpCatmullRom
)

func (i Interpolation) String() string {
	switch i {
	case InterpBilinear:
		return "bilinear"
	case InterpNearest:
		return "nearest"
	case InterpApproxBilinear:
		return "approx-bilinear"
	case InterpCatmullRom:
		return "catmull-rom"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// ParseInterpolation maps a name back to an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	for _, i := range []Interpolation{InterpBilinear, InterpNearest, InterpApproxBilinear, InterpCatmullRom} {
		if strings.EqualFold(s, i.String()) {
			return i, nil
		}
	}
	if s == "" {
		return InterpBilinear, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

func (i Interpolation) transformer() draw.Transformer {
	switch i {
	case InterpNearest:
		return draw.NearestNeighbor
	case InterpApproxBilinear:
		return draw.ApproxBiLinear
	case InterpCatmullRom:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

func (i Interpolation) cvFlags() gocv.InterpolationFlags {
	switch i {
	case InterpNearest:
		return gocv.InterpolationNearestNeighbor
	case InterpCatmullRom:
		return gocv.InterpolationCubic
	default:
		return gocv.InterpolationLinear
	}
}

// Resampler selects the library that performs the warp.
type Resampler int

const (
	ResampleDraw   Resampler = iota // golang.org/x/image/draw
	ResampleOpenCV                  // gocv WarpAffine
)

func (r Resampler) String() string {
	switch r {
	case ResampleDraw:
		return "draw"
	case ResampleOpenCV:
		return "opencv"
	default:
		return fmt.Sprintf("Resampler(%d)", int(r))
	}
}

// ParseResampler maps a name back to a Resampler.
func ParseResampler(s string) (Resampler, error) {
	switch strings.ToLower(s) {
	case "", "draw":
		return ResampleDraw, nil
	case "opencv", "gocv":
		return ResampleOpenCV, nil
	}
	return 0, fmt.Errorf("unknown resampler %q", s)
}

// Warp resamples src into a width x height image in the reference frame.
// t maps src (target) coordinates to output (reference) coordinates; each
// output pixel is inverse-mapped into src and sampled. Pixels that land
// outside src are 0.
func Warp(src *image.Gray, t geometry.AffineTransform, width, height int, interp Interpolation) (*image.Gray, error) {
	if err := checkWarpInput(src, t, width, height); err != nil {
		return nil, err
	}
	src = channel.Normalize(src)

	dst := image.NewGray(image.Rect(0, 0, width, height))

	// Keypoint coordinates put pixel centres on integers, x/image/draw on
	// half-integers.
	s2d := f64.Aff3{
		t.A, t.B, t.TX + 0.5 - 0.5*(t.A+t.B),
		t.C, t.D, t.TY + 0.5 - 0.5*(t.C+t.D),
	}
	interp.transformer().Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)

	return dst, nil
}

// WarpOpenCV is Warp implemented with OpenCV's warpAffine and a constant
// black border.
func WarpOpenCV(src *image.Gray, t geometry.AffineTransform, width, height int, interp Interpolation) (*image.Gray, error) {
	if err := checkWarpInput(src, t, width, height); err != nil {
		return nil, err
	}

	srcMat := cvmat.FromGray(src)
	defer srcMat.Close()

	transformMat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	m := t.ToMatrix()
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			transformMat.SetDoubleAt(r, c, m[r][c])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(srcMat, &dst, transformMat, image.Point{X: width, Y: height},
		interp.cvFlags(), gocv.BorderConstant, color.RGBA{})

	return cvmat.ToGray(dst)
}

func checkWarpInput(src *image.Gray, t geometry.AffineTransform, width, height int) error {
	if src == nil || src.Bounds().Empty() {
		return fmt.Errorf("warp: empty source: %w", ErrInvalidInput)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("warp: output size %dx%d: %w", width, height, ErrInvalidInput)
	}
	if !t.IsFinite() {
		return fmt.Errorf("warp: non-finite transform: %w", ErrInvalidInput)
	}
	if _, ok := t.Inverse(); !ok {
		return fmt.Errorf("warp: singular transform: %w", ErrInvalidInput)
	}
	return nil
}

// warpFunc returns the implementation behind r.
func (r Resampler) warpFunc() func(*image.Gray, geometry.AffineTransform, int, int, Interpolation) (*image.Gray, error) {
	if r == ResampleOpenCV {
		return WarpOpenCV
	}
	return Warp
}
