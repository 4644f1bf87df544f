package channel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	return img
}

func flat(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestIndexString(t *testing.T) {
	assert.Equal(t, "Red", Red.String())
	assert.Equal(t, "Green", Green.String())
	assert.Equal(t, "Blue", Blue.String())
	assert.Equal(t, "Index(7)", Index(7).String())
	assert.Equal(t, []Index{Green, Blue}, Targets())
}

func TestTripleValidate(t *testing.T) {
	tr := Triple{gradient(4, 4), gradient(5, 3), nil}
	err := tr.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingChannel))
	assert.Contains(t, err.Error(), "Blue")

	tr[2] = image.NewGray(image.Rect(0, 0, 0, 0))
	assert.False(t, tr.Complete())

	tr[2] = gradient(2, 2)
	assert.NoError(t, tr.Validate())
	w, h := tr.Size(Green)
	assert.Equal(t, 5, w)
	assert.Equal(t, 3, h)
}

func TestToGrayNormalizesOrigin(t *testing.T) {
	src := gradient(20, 10)
	sub := src.SubImage(image.Rect(5, 2, 15, 8)).(*image.Gray)

	g := ToGray(sub)
	assert.Equal(t, image.Rect(0, 0, 10, 6), g.Bounds())
	assert.Equal(t, src.GrayAt(5, 2), g.GrayAt(0, 0))
	assert.Equal(t, src.GrayAt(14, 7), g.GrayAt(9, 5))
	assert.True(t, Equal(sub, g))

	same := ToGray(src)
	assert.Same(t, src, same)
}

func TestToGrayFromRGBA(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	rgba.Set(1, 0, color.RGBA{A: 255})

	g := ToGray(rgba)
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), g.GrayAt(1, 0).Y)
}

func TestCloneIsIndependent(t *testing.T) {
	src := gradient(8, 8)
	c := Clone(src)
	require.True(t, Equal(src, c))

	c.SetGray(0, 0, color.Gray{Y: src.GrayAt(0, 0).Y + 1})
	assert.False(t, Equal(src, c))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := gradient(33, 17)

	for _, name := range []string{"c.png", "c.tif"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, src))

		got, err := Load(path)
		require.NoError(t, err)
		assert.True(t, Equal(src, got), name)
	}
}

func TestSaveRejectsUnknownFormat(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "c.bmp"), gradient(2, 2))
	assert.Error(t, err)
}

func TestFormats(t *testing.T) {
	assert.True(t, IsSupportedFormat("scan.TIF"))
	assert.True(t, IsSupportedFormat("DSC0001.ARW"))
	assert.True(t, IsRaw("DSC0001.arw"))
	assert.False(t, IsRaw("scan.png"))
	assert.False(t, IsSupportedFormat("notes.txt"))
}

func TestSaveJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jpg")
	src := flat(40, 30, 180)
	require.NoError(t, Save(path, src))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())
	assert.InDelta(t, 180, int(got.GrayAt(20, 15).Y), 2)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input format")
}

func TestConcurrentRawLoadsFailCleanly(t *testing.T) {
	dir := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Load(filepath.Join(dir, fmt.Sprintf("missing%d.dng", i)))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.Error(t, err)
	}
}

func TestCombine(t *testing.T) {
	r, g, b := gradient(6, 4), flat(6, 4, 40), flat(6, 4, 200)
	rgb, err := Combine(Triple{r, g, b})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), rgb.Bounds())

	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			want := color.NRGBA{R: r.GrayAt(x, y).Y, G: 40, B: 200, A: 0xff}
			assert.Equal(t, want, rgb.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestCombineSubImages(t *testing.T) {
	big := gradient(20, 20)
	sub := big.SubImage(image.Rect(4, 5, 10, 9)).(*image.Gray)
	rgb, err := Combine(Triple{sub, Clone(sub), Clone(sub)})
	require.NoError(t, err)
	assert.Equal(t, big.GrayAt(4, 5).Y, rgb.NRGBAAt(0, 0).R)
	assert.Equal(t, big.GrayAt(9, 8).Y, rgb.NRGBAAt(5, 3).B)
}

func TestCombineRejectsMismatchedSizes(t *testing.T) {
	_, err := Combine(Triple{gradient(6, 4), gradient(6, 4), gradient(5, 4)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blue")

	_, err = Combine(Triple{gradient(6, 4), nil, gradient(6, 4)})
	assert.ErrorIs(t, err, ErrMissingChannel)
}

func TestSaveColorRoundTrip(t *testing.T) {
	rgb, err := Combine(Triple{gradient(9, 7), flat(9, 7, 3), flat(9, 7, 250)})
	require.NoError(t, err)

	for _, name := range []string{"rgb.png", "rgb.tiff"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, SaveColor(path, rgb))

		f, err := os.Open(path)
		require.NoError(t, err)
		img, _, err := image.Decode(f)
		f.Close()
		require.NoError(t, err)

		got := color.NRGBAModel.Convert(img.At(4, 2)).(color.NRGBA)
		assert.Equal(t, rgb.NRGBAAt(4, 2), got, name)
	}
	assert.Error(t, SaveColor(filepath.Join(t.TempDir(), "rgb.png"), nil))
}
