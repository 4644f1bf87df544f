package features

import (
	"fmt"
	"image"

	"rgb-aligner/internal/cvmat"
	"rgb-aligner/pkg/geometry"

	"gocv.io/x/gocv"
)

// ORB extracts oriented FAST keypoints with rotated BRIEF descriptors using
// OpenCV. A fresh detector is built for every image so nothing tuned on one
// channel leaks into another.
type ORB struct {
	MaxFeatures   int
	ScaleFactor   float32
	Levels        int
	EdgeThreshold int
	PatchSize     int
	FastThreshold int
}

// NewORB returns an ORB extractor with OpenCV's default pyramid settings.
func NewORB(maxFeatures int) *ORB {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &ORB{
		MaxFeatures:   maxFeatures,
		ScaleFactor:   1.2,
		Levels:        8,
		EdgeThreshold: 31,
		PatchSize:     31,
		FastThreshold: 20,
	}
}

// Extract implements Extractor.
func (o *ORB) Extract(img *image.Gray) (*Set, error) {
	if img == nil || img.Bounds().Empty() {
		return &Set{}, nil
	}

	mat := cvmat.FromGray(img)
	defer mat.Close()

	detector := gocv.NewORBWithParams(o.MaxFeatures, o.ScaleFactor, o.Levels, o.EdgeThreshold,
		0, 2, gocv.ORBScoreTypeHarris, o.PatchSize, o.FastThreshold)
	defer detector.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := detector.DetectAndCompute(mat, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() {
		return &Set{}, nil
	}

	rows, err := cvmat.Rows(desc)
	if err != nil {
		return nil, fmt.Errorf("read ORB descriptors: %w", err)
	}
	if len(rows) != len(kps) {
		return nil, fmt.Errorf("ORB returned %d keypoints but %d descriptors", len(kps), len(rows))
	}

	set := &Set{
		Keypoints:   make([]Keypoint, len(kps)),
		Descriptors: make([]Descriptor, len(rows)),
	}
	for i, kp := range kps {
		set.Keypoints[i] = Keypoint{
			Point:    geometry.Point2D{X: kp.X, Y: kp.Y},
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		}
		set.Descriptors[i] = rows[i]
	}
	return set, nil
}
