// Package report writes per-channel alignment summaries as CSV.
package report

import (
	"os"

	"rgb-aligner/internal/alignment"

	"github.com/jszwec/csvutil"
)

// Row is one channel's line in the report.
type Row struct {
	Channel         string  `csv:"channel"`
	RefKeypoints    int     `csv:"ref_keypoints"`
	TargetKeypoints int     `csv:"target_keypoints"`
	Matches         int     `csv:"matches"`
	Inliers         int     `csv:"inliers"`
	RotationDeg     float64 `csv:"rotation_deg"`
	Scale           float64 `csv:"scale"`
	TX              float64 `csv:"tx"`
	TY              float64 `csv:"ty"`
	A               float64 `csv:"a"`
	B               float64 `csv:"b"`
	C               float64 `csv:"c"`
	D               float64 `csv:"d"`
	RMS             float64 `csv:"rms"`
	MeanError       float64 `csv:"mean_error"`
	Skipped         bool    `csv:"skipped"`
}

// Rows flattens the reports of r, reference channel first.
func Rows(r *alignment.Result) []Row {
	rows := make([]Row, 0, len(r.Reports))
	for _, rep := range r.Reports {
		t := rep.Transform
		rows = append(rows, Row{
			Channel:         rep.Channel.String(),
			RefKeypoints:    rep.RefKeypoints,
			TargetKeypoints: rep.TargetKeypoints,
			Matches:         rep.Matches,
			Inliers:         rep.Inliers,
			RotationDeg:     rep.RotationDegrees(),
			Scale:           t.ScaleFactor(),
			TX:              t.TX,
			TY:              t.TY,
			A:               t.A,
			B:               t.B,
			C:               t.C,
			D:               t.D,
			RMS:             rep.RMS,
			MeanError:       rep.MeanError,
			Skipped:         rep.Skipped,
		})
	}
	return rows
}

// Marshal encodes the report of r as CSV with a header line.
func Marshal(r *alignment.Result) ([]byte, error) {
	return csvutil.Marshal(Rows(r))
}

// Write saves the report of r to filename.
func Write(filename string, r *alignment.Result) error {
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0o644)
}

// Parse decodes a report produced by Marshal.
func Parse(data []byte) ([]Row, error) {
	var rows []Row
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
