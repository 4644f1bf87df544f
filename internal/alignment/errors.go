package alignment

import (
	"errors"
	"fmt"

	"rgb-aligner/internal/channel"
)

var (
	// ErrInvalidInput is returned for missing or empty images and invalid
	// output dimensions.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoFeatures is returned when a channel yields no descriptors and
	// the engine is configured to fail in that case.
	ErrNoFeatures = errors.New("no features detected")
)

// InsufficientCorrespondencesError reports that too few matches were found
// between the reference and a target channel to attempt a fit.
type InsufficientCorrespondencesError struct {
	Channel  channel.Index
	Actual   int
	Required int
}

func (e *InsufficientCorrespondencesError) Error() string {
	return fmt.Sprintf("insufficient correspondences for %s channel (%d/%d)",
		e.Channel, e.Actual, e.Required)
}

// TransformEstimationError reports that correspondences existed but no
// consistent partial affine transform could be recovered from them.
type TransformEstimationError struct {
	Channel channel.Index
	Reason  string
}

func (e *TransformEstimationError) Error() string {
	return fmt.Sprintf("failed to estimate transformation for %s channel: %s", e.Channel, e.Reason)
}
