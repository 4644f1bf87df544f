package cli

import (
	"fmt"
	"image"
	"math"

	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/synth"
	"rgb-aligner/pkg/geometry"

	"github.com/spf13/cobra"
)

func newSynthCmd(root *Root) *cobra.Command {
	var (
		input, output string
		width, height int
		seed          int64
		noise         bool
		angle, scale  float64
		tx, ty        float64
		interp        string
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a rotated, scaled and shifted copy of an image",
		Long: `Apply a known similarity transform (about the image centre) to an input image, or
to a generated texture when no input is given. Useful for producing channel
fixtures whose correct alignment is known.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src *image.Gray
			switch {
			case input != "":
				img, err := channel.Load(input)
				if err != nil {
					return err
				}
				src = img
			case noise:
				src = synth.Noise(width, height, seed)
			default:
				src = synth.Texture(width, height, seed)
			}

			ip, err := alignment.ParseInterpolation(interp)
			if err != nil {
				return err
			}

			b := src.Bounds()
			center := geometry.Point2D{X: float64(b.Dx()-1) / 2, Y: float64(b.Dy()-1) / 2}
			t := geometry.SimilarityAbout(center, scale, angle*math.Pi/180, tx, ty)

			out, err := alignment.Warp(src, t, b.Dx(), b.Dy(), ip)
			if err != nil {
				return err
			}
			if err := channel.Save(output, out); err != nil {
				return err
			}

			root.log.WithField("output", output).Info("Wrote synthetic channel")
			inv, _ := t.Inverse()
			fmt.Fprintf(cmd.OutOrStdout(), "applied:  rotation=%.4f° scale=%.5f tx=%.2f ty=%.2f\n",
				angle, scale, t.TX, t.TY)
			fmt.Fprintf(cmd.OutOrStdout(), "expected: rotation=%.4f° scale=%.5f tx=%.2f ty=%.2f\n",
				inv.Angle()*180/math.Pi, inv.ScaleFactor(), inv.TX, inv.TY)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "source image (default: generated texture)")
	flags.StringVarP(&output, "output", "o", "", "output image (.png or .tiff)")
	flags.IntVar(&width, "width", 640, "generated texture width")
	flags.IntVar(&height, "height", 480, "generated texture height")
	flags.Int64Var(&seed, "seed", 1, "generated texture seed")
	flags.BoolVar(&noise, "noise", false, "generate structureless noise instead of texture")
	flags.Float64Var(&angle, "angle", 0, "rotation in degrees")
	flags.Float64Var(&scale, "scale", 1, "uniform scale factor")
	flags.Float64Var(&tx, "tx", 0, "horizontal shift in pixels")
	flags.Float64Var(&ty, "ty", 0, "vertical shift in pixels")
	flags.StringVar(&interp, "interp", "bilinear", "interpolation")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
