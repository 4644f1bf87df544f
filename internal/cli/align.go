package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rgb-aligner/internal/adjust"
	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/app"
	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/config"
	"rgb-aligner/internal/report"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// alignFlags are shared by align and watch.
type alignFlags struct {
	inputs     [channel.Count]string
	outDir     string
	format     string
	reportPath string

	maxFeatures      int
	minMatches       int
	threshold        float64
	seed             int64
	interp           string
	resampler        string
	matcher          string
	failFeatureless  bool

	adjust [channel.Count]adjust.Params
}

func (f *alignFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.inputs[channel.Red], "red", "r", "", "red channel image (reference)")
	flags.StringVarP(&f.inputs[channel.Green], "green", "g", "", "green channel image")
	flags.StringVarP(&f.inputs[channel.Blue], "blue", "b", "", "blue channel image")
	flags.StringVarP(&f.outDir, "output", "o", "", "output directory for the aligned channels")
	flags.StringVar(&f.format, "format", "png", "output format: png, tiff, jpg")
	flags.StringVar(&f.reportPath, "report", "", "write a per-channel CSV report to this file")

	flags.IntVar(&f.maxFeatures, "max-features", 0, "keypoints kept per channel")
	flags.IntVar(&f.minMatches, "min-matches", 0, "minimum correspondences per channel")
	flags.Float64Var(&f.threshold, "threshold", 0, "RANSAC reprojection threshold in pixels")
	flags.Int64Var(&f.seed, "seed", 0, "RANSAC sampling seed")
	flags.StringVar(&f.interp, "interp", "", "interpolation: bilinear, nearest, approx-bilinear, catmull-rom")
	flags.StringVar(&f.resampler, "resampler", "", "resampling backend: draw, opencv")
	flags.StringVar(&f.matcher, "matcher", "", "descriptor matcher: hamming, bf")
	flags.BoolVar(&f.failFeatureless, "fail-featureless", false, "fail instead of passing channels without features through unaligned")

	for i := 0; i < channel.Count; i++ {
		name := strings.ToLower(channel.Index(i).String())
		flags.Float64Var(&f.adjust[i].Brightness, name+"-brightness", 0, name+" brightness offset (-100..100)")
		flags.Float64Var(&f.adjust[i].Contrast, name+"-contrast", 0, name+" contrast percent (-100..100)")
	}

	_ = cmd.MarkFlagRequired("red")
	_ = cmd.MarkFlagRequired("green")
	_ = cmd.MarkFlagRequired("blue")
	_ = cmd.MarkFlagRequired("output")
}

// options merges changed flags over the loaded config.
func (f *alignFlags) options(cmd *cobra.Command, cfg *config.Config) (alignment.Options, error) {
	merged := *cfg
	a := &merged.Alignment
	flags := cmd.Flags()
	if flags.Changed("max-features") {
		a.MaxFeatures = f.maxFeatures
	}
	if flags.Changed("min-matches") {
		a.MinCorrespondences = f.minMatches
	}
	if flags.Changed("threshold") {
		a.Threshold = f.threshold
	}
	if flags.Changed("seed") {
		a.Seed = f.seed
	}
	if flags.Changed("interp") {
		a.Interpolation = f.interp
	}
	if flags.Changed("resampler") {
		a.Resampler = f.resampler
	}
	if flags.Changed("matcher") {
		a.Matcher = f.matcher
	}
	if flags.Changed("fail-featureless") {
		a.AllowFeatureless = !f.failFeatureless
	}
	return merged.AlignmentOptions()
}

func (f *alignFlags) validate() error {
	switch f.format {
	case "png", "tiff", "jpg":
	default:
		return fmt.Errorf("unknown output format %q", f.format)
	}
	for i, p := range f.adjust {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", channel.Index(i), err)
		}
	}
	return nil
}

// newSession builds an engine and a session with the requested adjustments.
func (r *Root) newSession(cmd *cobra.Command, f *alignFlags) (*app.Session, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	opts, err := f.options(cmd, r.cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = r.log

	session := app.NewSession(r.newAligner(opts), r.log)
	for i, p := range f.adjust {
		if err := session.SetAdjustment(channel.Index(i), p); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func newAlignCmd(root *Root) *cobra.Command {
	f := &alignFlags{}

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align green and blue onto red and write the result",
		Long: `Load the three channel images, align green and blue onto red with ORB features
and a robust similarity fit, apply per-channel brightness/contrast, and write
r, g and b images of the reference size plus the merged rgb colour image to
the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.newSession(cmd, f)
			if err != nil {
				return err
			}

			for i, path := range f.inputs {
				if err := session.LoadChannel(channel.Index(i), path); err != nil {
					return err
				}
			}

			if err := writeOutputs(session, f); err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), session.Result())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	f := &alignFlags{}
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-align whenever a channel file changes",
		Long: `Align once, then keep watching the three channel files and re-align and rewrite
the outputs each time one of them is replaced. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.newSession(cmd, f)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), root.log, session, f, debounce)
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", app.DefaultDebounce, "quiet period before a change is processed")
	return cmd
}

// runWatch aligns once and then on every settled change until ctx is done.
// Alignment failures are logged and do not stop the watch.
func runWatch(ctx context.Context, out io.Writer, log logrus.FieldLogger, session *app.Session, f *alignFlags, debounce time.Duration) error {
	session.On(app.EventAlignmentComplete, func(data interface{}) {
		if err := writeOutputs(session, f); err != nil {
			log.WithError(err).Error("Failed to write outputs")
			return
		}
		printSummary(out, data.(*alignment.Result))
	})

	for i, path := range f.inputs {
		err := session.LoadChannel(channel.Index(i), path)
		if err != nil && !isAlignmentError(err) {
			return err
		}
	}

	watcher, err := app.NewChannelWatcher(f.inputs, debounce, log)
	if err != nil {
		return err
	}
	watcher.OnChange(func(idx channel.Index, path string) {
		if err := session.LoadChannel(idx, path); err != nil && !isAlignmentError(err) {
			log.WithError(err).WithField("channel", idx.String()).Error("Failed to reload channel")
		}
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	log.Info("Watching channel files, press Ctrl-C to stop")

	<-ctx.Done()
	return watcher.Stop()
}

// isAlignmentError reports whether err came from registration rather than
// from loading files; the session has already logged it.
func isAlignmentError(err error) bool {
	var insufficient *alignment.InsufficientCorrespondencesError
	var failed *alignment.TransformEstimationError
	return errors.As(err, &insufficient) || errors.As(err, &failed) || errors.Is(err, alignment.ErrNoFeatures)
}

// outputNames are the files written per channel, without extension.
var outputNames = [channel.Count]string{"r", "g", "b"}

// combinedName is the merged colour image written next to the channels.
const combinedName = "rgb"

func writeOutputs(session *app.Session, f *alignFlags) error {
	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return err
	}
	processed := session.ProcessedTriple()
	for i, img := range processed {
		path := filepath.Join(f.outDir, outputNames[i]+"."+f.format)
		if err := channel.Save(path, img); err != nil {
			return fmt.Errorf("write %s channel: %w", channel.Index(i), err)
		}
	}
	rgb, err := channel.Combine(processed)
	if err != nil {
		return fmt.Errorf("combine channels: %w", err)
	}
	if err := channel.SaveColor(filepath.Join(f.outDir, combinedName+"."+f.format), rgb); err != nil {
		return fmt.Errorf("write colour image: %w", err)
	}
	if f.reportPath != "" {
		if result := session.Result(); result != nil {
			if err := report.Write(f.reportPath, result); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
	}
	return nil
}

func printSummary(w io.Writer, result *alignment.Result) {
	if result == nil {
		return
	}
	for _, rep := range result.Reports[1:] {
		if rep.Skipped {
			fmt.Fprintf(w, "%-5s skipped (no features)\n", rep.Channel)
			continue
		}
		fmt.Fprintf(w, "%-5s matches=%d inliers=%d rotation=%.4f° scale=%.5f tx=%.2f ty=%.2f rms=%.3f\n",
			rep.Channel, rep.Matches, rep.Inliers, rep.RotationDegrees(),
			rep.Transform.ScaleFactor(), rep.Transform.TX, rep.Transform.TY, rep.RMS)
	}
}
