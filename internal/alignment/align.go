// Package alignment registers the green and blue channels of a tri-colour
// capture onto the red channel.
package alignment

import (
	"fmt"
	"image"
	"math"
	"sync"

	"rgb-aligner/internal/channel"
	"rgb-aligner/internal/features"
	"rgb-aligner/internal/logging"
	"rgb-aligner/pkg/geometry"

	"github.com/sirupsen/logrus"
)

// EmptyFeaturePolicy decides what happens when the reference or a target
// channel yields no descriptors.
type EmptyFeaturePolicy int

const (
	// PassThroughEmpty returns the channel unaligned (identity transform,
	// cropped or padded to the reference size) and marks it skipped.
	PassThroughEmpty EmptyFeaturePolicy = iota
	// FailOnEmpty aborts the call with ErrNoFeatures.
	FailOnEmpty
)

func (p EmptyFeaturePolicy) String() string {
	if p == FailOnEmpty {
		return "fail"
	}
	return "pass-through"
}

// Options configures an Engine.
type Options struct {
	MaxFeatures   int
	Estimate      EstimateOptions
	Interpolation Interpolation
	Resampler     Resampler
	EmptyFeatures EmptyFeaturePolicy

	Extractor features.Extractor  // nil: ORB capped at MaxFeatures
	Matcher   features.Matcher    // nil: OpenCV BFMatcher
	Logger    logrus.FieldLogger  // nil: discard
}

// DefaultOptions returns default alignment options.
func DefaultOptions() Options {
	return Options{
		MaxFeatures:   features.DefaultMaxFeatures,
		Estimate:      DefaultEstimateOptions(),
		Interpolation: InterpBilinear,
		Resampler:     ResampleDraw,
		EmptyFeatures: PassThroughEmpty,
	}
}

// ChannelReport describes how one channel was brought into the reference
// frame.
type ChannelReport struct {
	Channel         channel.Index
	RefKeypoints    int
	TargetKeypoints int
	Matches         int
	Inliers         int
	Transform       geometry.AffineTransform
	RMS             float64
	MeanError       float64
	Skipped         bool // Passed through without a fit (no features)
}

// RotationDegrees returns the recovered rotation in degrees.
func (r ChannelReport) RotationDegrees() float64 {
	return r.Transform.Angle() * 180 / math.Pi
}

// Result is the aligned triple; all channels share the reference size.
type Result struct {
	Channels channel.Triple
	Reports  [channel.Count]ChannelReport
}

// Engine runs the extract, match, estimate and warp pipeline. It holds no
// per-call state and may be shared between goroutines.
type Engine struct {
	opts      Options
	extractor features.Extractor
	matcher   features.Matcher
	log       logrus.FieldLogger
}

// NewEngine creates an Engine, filling in default capabilities.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		opts:      opts,
		extractor: opts.Extractor,
		matcher:   opts.Matcher,
		log:       opts.Logger,
	}
	if e.extractor == nil {
		e.extractor = features.NewORB(opts.MaxFeatures)
	}
	if e.matcher == nil {
		e.matcher = features.BFMatcher{}
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	return e
}

// Align registers the green and blue channels onto the red one. The red
// channel is returned as an identical copy. A failure on either target
// channel fails the whole call.
func (e *Engine) Align(in channel.Triple) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("align: %w: %w", ErrInvalidInput, err)
	}
	if err := e.opts.Estimate.Validate(); err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}

	refW, refH := in.Size(channel.Reference)
	e.log.WithFields(logrus.Fields{"width": refW, "height": refH}).Debug("Aligning channels")

	// Extraction is independent per channel.
	var sets [channel.Count]*features.Set
	var errs [channel.Count]error
	var wg sync.WaitGroup
	for i := range in {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sets[i], errs[i] = e.extractor.Extract(in[i])
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("extract %s channel: %w", channel.Index(i), err)
		}
		e.log.WithFields(logrus.Fields{
			"channel":   channel.Index(i).String(),
			"keypoints": sets[i].Len(),
		}).Debug("Extracted features")
	}

	result := &Result{}
	result.Channels[channel.Reference] = channel.Clone(in[channel.Reference])
	result.Reports[channel.Reference] = ChannelReport{
		Channel:         channel.Reference,
		RefKeypoints:    sets[channel.Reference].Len(),
		TargetKeypoints: sets[channel.Reference].Len(),
		Transform:       geometry.Identity(),
	}

	// The correction passes only read shared inputs.
	targets := channel.Targets()
	outs := make([]*image.Gray, len(targets))
	reports := make([]ChannelReport, len(targets))
	passErrs := make([]error, len(targets))
	for k, idx := range targets {
		wg.Add(1)
		go func(k int, idx channel.Index) {
			defer wg.Done()
			outs[k], reports[k], passErrs[k] = e.alignChannel(idx, in[idx], sets[channel.Reference], sets[idx], refW, refH)
		}(k, idx)
	}
	wg.Wait()

	for k, idx := range targets {
		if passErrs[k] != nil {
			return nil, passErrs[k]
		}
		result.Channels[idx] = outs[k]
		result.Reports[idx] = reports[k]
	}

	return result, nil
}

// alignChannel fits and applies the transform for one target channel.
func (e *Engine) alignChannel(idx channel.Index, img *image.Gray, ref, target *features.Set, width, height int) (*image.Gray, ChannelReport, error) {
	report := ChannelReport{
		Channel:         idx,
		RefKeypoints:    ref.Len(),
		TargetKeypoints: target.Len(),
	}
	log := e.log.WithField("channel", idx.String())
	warp := e.opts.Resampler.warpFunc()

	if ref.Empty() || target.Empty() {
		if e.opts.EmptyFeatures == FailOnEmpty {
			return nil, report, fmt.Errorf("%s channel: %w (reference=%d, target=%d)",
				idx, ErrNoFeatures, ref.Len(), target.Len())
		}
		out, err := warp(img, geometry.Identity(), width, height, e.opts.Interpolation)
		if err != nil {
			return nil, report, fmt.Errorf("%s channel: %w", idx, err)
		}
		report.Transform = geometry.Identity()
		report.Skipped = true
		log.Warn("No features detected, channel left unaligned")
		return out, report, nil
	}

	matches, err := e.matcher.Match(ref, target)
	if err != nil {
		return nil, report, fmt.Errorf("match %s channel: %w", idx, err)
	}
	corr, err := BuildCorrespondences(ref, target, matches)
	if err != nil {
		return nil, report, fmt.Errorf("match %s channel: %w", idx, err)
	}
	report.Matches = len(corr)
	log.WithField("matches", len(corr)).Debug("Matched features")

	est, err := EstimatePartialAffine(idx, corr, e.opts.Estimate)
	if err != nil {
		log.WithError(err).Warn("Alignment failed")
		return nil, report, err
	}
	report.Transform = est.Transform
	report.Inliers = len(est.Inliers)
	report.RMS = est.RMS
	report.MeanError = est.MeanError

	out, err := warp(img, est.Transform, width, height, e.opts.Interpolation)
	if err != nil {
		return nil, report, fmt.Errorf("%s channel: %w", idx, err)
	}

	log.WithFields(logrus.Fields{
		"matches":  report.Matches,
		"inliers":  report.Inliers,
		"rms":      fmt.Sprintf("%.3f", report.RMS),
		"rotation": fmt.Sprintf("%.4f", report.RotationDegrees()),
		"scale":    fmt.Sprintf("%.5f", est.Transform.ScaleFactor()),
		"tx":       fmt.Sprintf("%.2f", est.Transform.TX),
		"ty":       fmt.Sprintf("%.2f", est.Transform.TY),
	}).Info("Channel aligned")

	return out, report, nil
}
