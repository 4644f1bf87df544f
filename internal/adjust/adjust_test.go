package adjust

import (
	"image"
	"testing"

	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 256, 1))
	for x := 0; x < 256; x++ {
		img.Pix[x] = uint8(x)
	}
	return img
}

func TestApplyNil(t *testing.T) {
	assert.Nil(t, Apply(nil, Params{Brightness: 10}))
	assert.Nil(t, Apply(image.NewGray(image.Rectangle{}), Params{}))
}

func TestApplyIdentityCopies(t *testing.T) {
	src := synth.Texture(40, 30, 1)
	out := Apply(src, Params{})
	assert.True(t, channel.Equal(src, out))
	assert.NotSame(t, src, out)
}

func TestApplyFormula(t *testing.T) {
	cases := []struct {
		name   string
		params Params
		in     uint8
		want   uint8
	}{
		{"brightness", Params{Brightness: 20}, 100, 120},
		{"brightness clips high", Params{Brightness: 50}, 230, 255},
		{"negative brightness clips low", Params{Brightness: -50}, 30, 0},
		{"contrast doubles", Params{Contrast: 100}, 60, 120},
		{"contrast halves truncating", Params{Contrast: -50}, 101, 50},
		{"contrast then brightness", Params{Brightness: 10, Contrast: 50}, 100, 160},
		{"full negative contrast", Params{Contrast: -100, Brightness: 40}, 200, 40},
	}
	src := ramp()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Apply(src, tc.params)
			require.NotNil(t, out)
			assert.Equal(t, tc.want, out.GrayAt(int(tc.in), 0).Y)
		})
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	src := synth.Texture(64, 48, 2)
	before := channel.Clone(src)
	_ = Apply(src, Params{Brightness: 30, Contrast: 20})
	assert.True(t, channel.Equal(before, src))
}

func TestApplySubImage(t *testing.T) {
	src := ramp().SubImage(image.Rect(10, 0, 20, 1)).(*image.Gray)
	out := Apply(src, Params{Brightness: 1})
	assert.Equal(t, image.Rect(0, 0, 10, 1), out.Bounds())
	assert.Equal(t, uint8(11), out.GrayAt(0, 0).Y)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, Params{Brightness: -100, Contrast: 100}.Validate())
	assert.Error(t, Params{Brightness: 101}.Validate())
	assert.Error(t, Params{Contrast: -100.5}.Validate())
	assert.True(t, Params{}.IsIdentity())
	assert.False(t, Params{Contrast: 1}.IsIdentity())
}
