package alignment

import (
	"fmt"

	"rgb-aligner/internal/features"
	"rgb-aligner/pkg/geometry"
)

// Correspondence asserts that Ref in the reference channel and Target in
// a target channel show the same scene point.
type Correspondence struct {
	Ref    geometry.Point2D
	Target geometry.Point2D
}

// BuildCorrespondences resolves matches into point pairs.
func BuildCorrespondences(ref, target *features.Set, matches []features.Match) ([]Correspondence, error) {
	out := make([]Correspondence, 0, len(matches))
	for _, m := range matches {
		if m.RefIndex < 0 || m.RefIndex >= len(ref.Keypoints) ||
			m.TargetIndex < 0 || m.TargetIndex >= len(target.Keypoints) {
			return nil, fmt.Errorf("match (%d, %d) out of range", m.RefIndex, m.TargetIndex)
		}
		out = append(out, Correspondence{
			Ref:    ref.Keypoints[m.RefIndex].Point,
			Target: target.Keypoints[m.TargetIndex].Point,
		})
	}
	return out, nil
}
