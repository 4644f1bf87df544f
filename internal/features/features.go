// Package features detects keypoints in channel images and pairs them up
// across channels.
package features

import (
	"fmt"
	"image"

	"rgb-aligner/pkg/geometry"
)

// DefaultMaxFeatures caps the number of keypoints kept per channel.
const DefaultMaxFeatures = 1000

// Keypoint is a distinctive location in one channel image.
type Keypoint struct {
	Point    geometry.Point2D
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// Descriptor encodes the appearance around a keypoint. Only matchers look
// inside it.
type Descriptor []byte

// Set holds the keypoints of one image and their descriptors; the two slices
// are parallel.
type Set struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// Len returns the number of described keypoints.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Descriptors)
}

// Empty reports whether the set has no descriptors.
func (s *Set) Empty() bool {
	return s.Len() == 0
}

// Validate checks that keypoints and descriptors line up and that every
// descriptor has the same length.
func (s *Set) Validate() error {
	if s == nil {
		return nil
	}
	if len(s.Keypoints) != len(s.Descriptors) {
		return fmt.Errorf("%d keypoints but %d descriptors", len(s.Keypoints), len(s.Descriptors))
	}
	for i, d := range s.Descriptors {
		if len(d) != len(s.Descriptors[0]) {
			return fmt.Errorf("descriptor %d has %d bytes, want %d", i, len(d), len(s.Descriptors[0]))
		}
	}
	return nil
}

// Match pairs a reference keypoint with a target keypoint by index.
type Match struct {
	RefIndex    int
	TargetIndex int
	Distance    int
}

// Extractor finds keypoints and descriptors in a single channel image. An
// image without distinctive features yields an empty Set, not an error.
type Extractor interface {
	Extract(img *image.Gray) (*Set, error)
}

// Matcher pairs descriptors of a reference Set with those of a target Set.
// Either side being empty yields no matches and no error.
type Matcher interface {
	Match(ref, target *Set) ([]Match, error)
}

// NewMatcher returns the matcher registered under name: "bf" (OpenCV brute
// force, the default) or "hamming" (pure Go).
func NewMatcher(name string) (Matcher, error) {
	switch name {
	case "", "bf", "opencv":
		return BFMatcher{}, nil
	case "hamming":
		return HammingMatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown matcher %q", name)
	}
}
