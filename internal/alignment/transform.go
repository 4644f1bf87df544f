package alignment

import (
	"fmt"
	"math"
	"math/rand"

	"rgb-aligner/internal/channel"
	"rgb-aligner/pkg/geometry"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinCorrespondences is the smallest correspondence set a fit is
// attempted on.
const DefaultMinCorrespondences = 50

// EstimateOptions configures the robust partial affine fit.
type EstimateOptions struct {
	MinCorrespondences int     // Feasibility floor
	Threshold          float64 // RANSAC reprojection threshold (pixels)
	MaxIterations      int     // Upper bound on RANSAC hypotheses
	Confidence         float64 // Used to shrink the iteration count adaptively
	RefineIterations   int     // Least-squares refit rounds over the inliers
	MinInlierRatio     float64 // Fraction of correspondences that must agree
	Seed               int64   // Sampling seed; fixed for repeatable results
}

// DefaultEstimateOptions returns OpenCV-like RANSAC settings.
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		MinCorrespondences: DefaultMinCorrespondences,
		Threshold:          3.0,
		MaxIterations:      2000,
		Confidence:         0.99,
		RefineIterations:   10,
		MinInlierRatio:     0.2,
		Seed:               1,
	}
}

// Validate rejects option values the estimator cannot work with.
func (o EstimateOptions) Validate() error {
	switch {
	case o.MinCorrespondences < 2:
		return fmt.Errorf("min correspondences must be at least 2, got %d", o.MinCorrespondences)
	case o.Threshold <= 0:
		return fmt.Errorf("threshold must be positive, got %g", o.Threshold)
	case o.MaxIterations <= 0:
		return fmt.Errorf("max iterations must be positive, got %d", o.MaxIterations)
	case o.Confidence <= 0 || o.Confidence >= 1:
		return fmt.Errorf("confidence must be in (0, 1), got %g", o.Confidence)
	case o.RefineIterations < 0:
		return fmt.Errorf("refine iterations must not be negative, got %d", o.RefineIterations)
	case o.MinInlierRatio < 0 || o.MinInlierRatio > 1:
		return fmt.Errorf("min inlier ratio must be in [0, 1], got %g", o.MinInlierRatio)
	}
	return nil
}

// Estimate is a fitted target-to-reference transform with its support.
type Estimate struct {
	Transform geometry.AffineTransform
	Inliers   []int   // Indices into the correspondence set
	RMS       float64 // Root mean square residual over the inliers
	MeanError float64
	StdDev    float64
}

// EstimatePartialAffine fits a rotation + uniform scale + translation that
// maps Target points onto Ref points, tolerating outliers via RANSAC over
// two-point samples followed by a least-squares refit on the consensus set.
func EstimatePartialAffine(ch channel.Index, corr []Correspondence, opts EstimateOptions) (*Estimate, error) {
	if len(corr) < opts.MinCorrespondences {
		return nil, &InsufficientCorrespondencesError{
			Channel:  ch,
			Actual:   len(corr),
			Required: opts.MinCorrespondences,
		}
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("estimate options: %w", err)
	}

	fail := func(format string, args ...any) error {
		return &TransformEstimationError{Channel: ch, Reason: fmt.Sprintf(format, args...)}
	}

	n := len(corr)
	minInliers := int(math.Ceil(opts.MinInlierRatio * float64(n)))
	if minInliers < 3 {
		minInliers = 3
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	threshSq := opts.Threshold * opts.Threshold

	var bestTransform geometry.AffineTransform
	var bestInliers []int
	bestErr := math.Inf(1)

	iterations := opts.MaxIterations
	for iter := 0; iter < iterations; iter++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}

		transform, ok := similarityFrom2(corr[i].Target, corr[j].Target, corr[i].Ref, corr[j].Ref)
		if !ok {
			continue
		}

		inliers, sse := scoreInliers(transform, corr, threshSq)
		if len(inliers) > len(bestInliers) || (len(inliers) == len(bestInliers) && sse < bestErr) {
			bestTransform = transform
			bestInliers = inliers
			bestErr = sse

			ratio := float64(len(inliers)) / float64(n)
			if k := updateIterations(opts.Confidence, ratio, 2, opts.MaxIterations); k < iterations {
				iterations = k
			}
		}
	}

	if len(bestInliers) == 0 {
		return nil, fail("no non-degenerate sample among %d correspondences", n)
	}
	if len(bestInliers) < minInliers {
		return nil, fail("only %d of %d correspondences agree on a transform (need %d)",
			len(bestInliers), n, minInliers)
	}

	transform, inliers := bestTransform, bestInliers
	for round := 0; round < opts.RefineIterations; round++ {
		refit, err := fitSimilarity(corr, inliers)
		if err != nil {
			if round == 0 {
				return nil, fail("least-squares refit: %v", err)
			}
			break
		}

		refitInliers, _ := scoreInliers(refit, corr, threshSq)
		if len(refitInliers) < minInliers {
			break
		}
		transform = refit
		if sameIndices(refitInliers, inliers) {
			break
		}
		inliers = refitInliers
	}

	if !transform.IsFinite() {
		return nil, fail("non-finite transform")
	}
	if s := transform.ScaleFactor(); s < 1e-6 {
		return nil, fail("degenerate scale %g", s)
	}

	residuals := make([]float64, len(inliers))
	var sumSq float64
	for k, idx := range inliers {
		d := transform.Apply(corr[idx].Target).Distance(corr[idx].Ref)
		residuals[k] = d
		sumSq += d * d
	}
	mean, std := stat.MeanStdDev(residuals, nil)

	return &Estimate{
		Transform: transform,
		Inliers:   inliers,
		RMS:       math.Sqrt(sumSq / float64(len(inliers))),
		MeanError: mean,
		StdDev:    std,
	}, nil
}

// similarityFrom2 computes the similarity mapping s0->d0 and s1->d1.
func similarityFrom2(s0, s1, d0, d1 geometry.Point2D) (geometry.AffineTransform, bool) {
	sv, dv := s1.Sub(s0), d1.Sub(d0)
	sx, sy := sv.X, sv.Y
	dx, dy := dv.X, dv.Y

	srcLenSq := sx*sx + sy*sy
	dstLenSq := dx*dx + dy*dy
	if srcLenSq < 1e-6 || dstLenSq < 1e-6 {
		return geometry.AffineTransform{}, false
	}

	// [a -b; b a] * s = d
	a := (sx*dx + sy*dy) / srcLenSq
	b := (sx*dy - sy*dx) / srcLenSq

	tx := d0.X - (a*s0.X - b*s0.Y)
	ty := d0.Y - (b*s0.X + a*s0.Y)

	return geometry.AffineTransform{
		A: a, B: -b, TX: tx,
		C: b, D: a, TY: ty,
	}, true
}

// fitSimilarity computes the least-squares similarity over the selected
// correspondences. Coordinates are centred first, which leaves only the
// rotation/scale pair to solve for.
func fitSimilarity(corr []Correspondence, idx []int) (geometry.AffineTransform, error) {
	if len(idx) < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 2 points, got %d", len(idx))
	}

	src := make([]geometry.Point2D, len(idx))
	dst := make([]geometry.Point2D, len(idx))
	for k, i := range idx {
		src[k] = corr[i].Target
		dst[k] = corr[i].Ref
	}
	cs := geometry.Centroid(src)
	cd := geometry.Centroid(dst)

	// x' = a*x - b*y
	// y' = b*x + a*y
	A := mat.NewDense(len(idx)*2, 2, nil)
	B := mat.NewVecDense(len(idx)*2, nil)
	for k := range src {
		p := src[k].Sub(cs)
		q := dst[k].Sub(cd)

		A.Set(k*2, 0, p.X)
		A.Set(k*2, 1, -p.Y)
		B.SetVec(k*2, q.X)

		A.Set(k*2+1, 0, p.Y)
		A.Set(k*2+1, 1, p.X)
		B.SetVec(k*2+1, q.Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	a, b := params.AtVec(0), params.AtVec(1)
	return geometry.AffineTransform{
		A: a, B: -b, TX: cd.X - (a*cs.X - b*cs.Y),
		C: b, D: a, TY: cd.Y - (b*cs.X + a*cs.Y),
	}, nil
}

// scoreInliers returns the indices whose squared reprojection error is
// within threshSq, and the summed squared error over them.
func scoreInliers(t geometry.AffineTransform, corr []Correspondence, threshSq float64) ([]int, float64) {
	var inliers []int
	var sse float64
	for i, c := range corr {
		d := t.Apply(c.Target).DistanceSq(c.Ref)
		if d <= threshSq {
			inliers = append(inliers, i)
			sse += d
		}
	}
	return inliers, sse
}

// updateIterations returns the number of samples needed to draw at least
// one all-inlier sample of size m with the given confidence.
func updateIterations(confidence, inlierRatio float64, m, maxIters int) int {
	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(inlierRatio, float64(m))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}

	num = math.Log(num)
	denom = math.Log(denom)
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return int(math.Round(num / denom))
}

func sameIndices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
